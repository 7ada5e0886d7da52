package promotion

import (
	"go.uber.org/fx"

	"commissionplane/pkg/config"
)

var Module = fx.Module("promotion.service",
	fx.Provide(ProvideRules),
	fx.Provide(NewService),
)

func ProvideRules(cfg *config.Config) Rules {
	return FromAppConfig(cfg)
}
