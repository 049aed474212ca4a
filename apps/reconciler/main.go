package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	"github.com/smallbiznis/heartline/internal/credential"
	"github.com/smallbiznis/heartline/internal/forwarder"
	"github.com/smallbiznis/heartline/internal/health"
	"github.com/smallbiznis/heartline/internal/instance"
	"github.com/smallbiznis/heartline/internal/metricspush"
	"github.com/smallbiznis/heartline/internal/observability"
	"github.com/smallbiznis/heartline/internal/pending"
	"github.com/smallbiznis/heartline/internal/providers/wakatime"
	"github.com/smallbiznis/heartline/internal/ratelimit"
	"github.com/smallbiznis/heartline/internal/reconciler"
	"github.com/smallbiznis/heartline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Delivery path only; no HTTP server.
		cache.Module,
		ratelimit.Module,
		wakatime.Module,
		credential.Module,
		instance.Module,
		health.Module,
		forwarder.Module,
		pending.Module,
		metricspush.Module,
		reconciler.Module,
		reconciler.Loop,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
