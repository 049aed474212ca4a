package pending

import (
	"github.com/smallbiznis/heartline/internal/pending/repository"
	"github.com/smallbiznis/heartline/internal/pending/service"
	"go.uber.org/fx"
)

var Module = fx.Module("pending.queue",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
