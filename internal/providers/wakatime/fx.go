package wakatime

import "go.uber.org/fx"

var Module = fx.Module("providers.wakatime",
	fx.Provide(New),
)
