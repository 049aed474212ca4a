package usage

import (
	"github.com/smallbiznis/heartline/internal/usage/repository"
	"github.com/smallbiznis/heartline/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.aggregator",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
