package health

import (
	"github.com/smallbiznis/heartline/internal/health/service"
	"github.com/smallbiznis/heartline/internal/providers/wakatime"
	"go.uber.org/fx"
)

var Module = fx.Module("health.prober",
	fx.Provide(func(c *wakatime.Client) service.StatusChecker { return c }),
	fx.Provide(service.New),
)
