package reconciler

import (
	"context"

	"github.com/smallbiznis/heartline/internal/config"
	"github.com/smallbiznis/heartline/internal/ratelimit"
	"go.uber.org/fx"
)

var Module = fx.Module("reconciler",
	fx.Provide(provideLocker),
	fx.Provide(New),
)

// Loop runs the reconciler for the lifetime of the app.
var Loop = fx.Invoke(startLoop)

// EmbeddedLoop runs the reconciler inside the API process when SCHEDULER_EMBEDDED is set.
var EmbeddedLoop = fx.Invoke(func(lc fx.Lifecycle, cfg config.Config, r *Reconciler) {
	if !cfg.Scheduler.Embedded {
		return
	}
	startLoop(lc, r)
})

func provideLocker(l *ratelimit.Locker) RunLocker {
	if l == nil {
		return nil
	}
	return l
}

func startLoop(lc fx.Lifecycle, r *Reconciler) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				r.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
