package instance

import (
	"github.com/smallbiznis/heartline/internal/instance/repository"
	"github.com/smallbiznis/heartline/internal/instance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("instance.registry",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
