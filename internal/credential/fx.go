package credential

import (
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	"github.com/smallbiznis/heartline/internal/credential/repository"
	"github.com/smallbiznis/heartline/internal/credential/service"
	"github.com/smallbiznis/heartline/internal/providers/wakatime"
	"go.uber.org/fx"
)

var Module = fx.Module("credential.resolver",
	fx.Provide(repository.Provide),
	fx.Provide(func(c *wakatime.Client) credentialdomain.Refresher { return c }),
	fx.Provide(service.New),
)
