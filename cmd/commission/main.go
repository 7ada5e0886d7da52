package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	asynqfx "commissionplane/pkg/asynq"
	"commissionplane/pkg/config"
	"commissionplane/pkg/db"
	"commissionplane/pkg/featureflags"
	"commissionplane/pkg/health"
	"commissionplane/pkg/logger"
	"commissionplane/pkg/redis"
	"commissionplane/pkg/server"

	"commissionplane/internal/httpapi"
	"commissionplane/services/fraud"
	"commissionplane/services/ledger"
	"commissionplane/services/promotion"
	"commissionplane/services/referral"
	"commissionplane/services/rules"
	"commissionplane/services/settlement"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynqfx.Client,
		featureflags.Module,
		health.Module,
		fx.Provide(provideSnowflakeNode),

		referral.Module,
		rules.Module,
		ledger.Module,
		promotion.Module,
		settlement.Module,
		settlement.SchedulerModule,
		fraud.Module,

		httpapi.Module,
		server.ProvideHTTPServer,

		fx.Invoke(db.Otel, db.Metric, autoMigrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func autoMigrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&referral.Agent{},
		&referral.PromotionEvent{},
		&ledger.Wallet{},
		&ledger.WalletTransaction{},
		&settlement.OrderSettlement{},
		&settlement.RewardRecord{},
		&fraud.FraudFlag{},
	)
}
