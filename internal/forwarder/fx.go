package forwarder

import (
	forwarderdomain "github.com/smallbiznis/heartline/internal/forwarder/domain"
	"github.com/smallbiznis/heartline/internal/forwarder/service"
	"github.com/smallbiznis/heartline/internal/providers/wakatime"
	"go.uber.org/fx"
)

var Module = fx.Module("forwarder",
	fx.Provide(func(c *wakatime.Client) forwarderdomain.Sender { return c }),
	fx.Provide(service.New),
)
