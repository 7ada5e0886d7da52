package rules

import (
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"commissionplane/pkg/config"
)

var Module = fx.Module("rules.engine",
	fx.Provide(ProvideEngine),
)

// ProvideEngine builds the engine from application config. An inconsistent
// rate table would misallocate money, so it aborts startup.
func ProvideEngine(cfg *config.Config) *Engine {
	engine, err := NewEngine(FromAppConfig(cfg))
	if err != nil {
		zap.L().Error("invalid commission rate table", zap.Error(err))
		os.Exit(1)
	}
	return engine
}
