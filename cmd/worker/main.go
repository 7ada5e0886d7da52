package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	asynqfx "commissionplane/pkg/asynq"
	"commissionplane/pkg/config"
	"commissionplane/pkg/db"
	"commissionplane/pkg/featureflags"
	"commissionplane/pkg/logger"
	"commissionplane/pkg/redis"

	"commissionplane/services/fraud"
	"commissionplane/services/ledger"
	"commissionplane/services/promotion"
	"commissionplane/services/referral"
	"commissionplane/services/rules"
	"commissionplane/services/settlement"
)

func main() {
	fx.New(
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		asynqfx.Client,
		asynqfx.Server,
		featureflags.Module,
		fx.Provide(provideSnowflakeNode),

		referral.Module,
		rules.Module,
		ledger.Module,
		promotion.Module,
		settlement.Module,
		settlement.TaskModule,
		fraud.Module,
		fraud.TaskModule,

		fx.Invoke(registerHandlers),
		fxLogger,
	).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func registerHandlers(mux *asynq.ServeMux, settlementTask *settlement.Task, fraudTask *fraud.Task) {
	settlement.RegisterHandlers(mux, settlementTask)
	fraud.RegisterHandlers(mux, fraudTask)
}
