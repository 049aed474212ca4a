package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	"github.com/smallbiznis/heartline/internal/metricspush"
	"github.com/smallbiznis/heartline/internal/observability"
	"github.com/smallbiznis/heartline/internal/reconciler"
	"github.com/smallbiznis/heartline/internal/server"
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

		server.Module,

		// /backend/schedule-pending drives the reconciler from an external cron.
		metricspush.Module,
		reconciler.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
