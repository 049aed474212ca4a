package metricspush

import (
	"go.uber.org/fx"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
)
