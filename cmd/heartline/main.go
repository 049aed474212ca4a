package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	"github.com/smallbiznis/heartline/internal/metricspush"
	"github.com/smallbiznis/heartline/internal/migration"
	"github.com/smallbiznis/heartline/internal/observability"
	"github.com/smallbiznis/heartline/internal/reconciler"
	"github.com/smallbiznis/heartline/internal/server"
	"github.com/smallbiznis/heartline/pkg/db"
	"go.uber.org/fx"
)

// heartline runs the API and, unless SCHEDULER_EMBEDDED=false, the reconcile loop in one process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		server.Module,
		metricspush.Module,
		reconciler.Module,
		reconciler.EmbeddedLoop,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
