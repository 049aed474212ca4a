package service

import (
	"context"

	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	healthdomain "github.com/smallbiznis/heartline/internal/health/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/smallbiznis/heartline/internal/observability/metrics"
	"github.com/smallbiznis/heartline/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// StatusChecker performs the authenticated read used as a probe.
type StatusChecker interface {
	Status(ctx context.Context, dest instancedomain.Destination) error
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Checker    StatusChecker
	Cache      cache.PipelineCache
	Clock      clock.Clock
	Forwarding *config.ForwardingConfigHolder
}

type Prober struct {
	log        *zap.Logger
	checker    StatusChecker
	cache      cache.PipelineCache
	clock      clock.Clock
	forwarding *config.ForwardingConfigHolder
	metrics    *metrics.DeliveryMetrics
}

func New(p Params) healthdomain.Prober {
	return &Prober{
		log:        p.Log.Named("health.prober"),
		checker:    p.Checker,
		cache:      p.Cache,
		clock:      p.Clock,
		forwarding: p.Forwarding,
		metrics:    metrics.Delivery(),
	}
}

func (p *Prober) Probe(ctx context.Context, dest instancedomain.Destination) bool {
	return p.Status(ctx, dest).Healthy
}

// Status returns the cached probe result or performs one bounded probe.
// Probes are never retried.
func (p *Prober) Status(ctx context.Context, dest instancedomain.Destination) healthdomain.Status {
	if status, ok := p.cache.GetHealth(dest.ID); ok {
		p.metrics.IncProbe(status.Healthy, true)
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, p.forwarding.Get().ProbeTimeout)
	defer cancel()

	err := p.checker.Status(probeCtx, dest)
	status := healthdomain.Status{
		Healthy:   err == nil,
		CheckedAt: p.clock.Now(),
	}
	if err != nil {
		status.Error = tracing.SafeError(err).Error()
		p.log.Debug("destination unhealthy",
			zap.String("destination_id", dest.ID),
			zap.String("destination_kind", dest.Kind),
			zap.String("error", status.Error),
		)
	}

	p.metrics.IncProbe(status.Healthy, false)
	// A caller that went away says nothing about the destination.
	if ctx.Err() != nil {
		return status
	}
	p.cache.SetHealth(dest.ID, status)
	return status
}
