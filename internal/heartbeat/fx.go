package heartbeat

import (
	"github.com/smallbiznis/heartline/internal/heartbeat/liveevents"
	"github.com/smallbiznis/heartline/internal/heartbeat/service"
	"go.uber.org/fx"
)

var Module = fx.Module("heartbeat.ingest",
	fx.Provide(liveevents.NewHub),
	fx.Provide(service.New),
)
