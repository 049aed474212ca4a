package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/config"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	forwarderdomain "github.com/smallbiznis/heartline/internal/forwarder/domain"
	healthdomain "github.com/smallbiznis/heartline/internal/health/domain"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/smallbiznis/heartline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/heartline/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	errUnhealthy    = errors.New("destination unhealthy")
	errMissingToken = errors.New("upstream token unavailable")
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Resolver   credentialdomain.Resolver
	Registry   instancedomain.Registry
	Prober     healthdomain.Prober
	Sender     forwarderdomain.Sender
	Forwarding *config.ForwardingConfigHolder
}

type Forwarder struct {
	log         *zap.Logger
	upstreamURL string
	resolver    credentialdomain.Resolver
	registry    instancedomain.Registry
	prober      healthdomain.Prober
	sender      forwarderdomain.Sender
	forwarding  *config.ForwardingConfigHolder
}

func New(p Params) forwarderdomain.Forwarder {
	return &Forwarder{
		log:         p.Log.Named("forwarder"),
		upstreamURL: p.Config.Upstream.BaseURL,
		resolver:    p.Resolver,
		registry:    p.Registry,
		prober:      p.Prober,
		sender:      p.Sender,
		forwarding:  p.Forwarding,
	}
}

type delivery struct {
	dest       instancedomain.Destination
	heartbeats []heartbeatdomain.Heartbeat
	err        error
}

func (f *Forwarder) Forward(ctx context.Context, userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat) forwarderdomain.Result {
	if len(heartbeats) == 0 {
		return emptyResult()
	}
	log := f.log.With(zap.String("user_id", userID.String()))

	deliveries := []*delivery{}
	failed := map[string]error{}
	if token, ok := f.resolver.GetToken(ctx, userID); ok {
		deliveries = append(deliveries, &delivery{dest: f.upstream(token), heartbeats: heartbeats})
	}
	mirrors, err := f.registry.Destinations(ctx, userID)
	if err != nil {
		// The batch is owed to whatever mirrors exist; the reconciler expands the marker.
		log.Error("failed to list mirror destinations", zap.Error(err))
		metrics.Delivery().ObserveForward(metrics.DestinationKindMirror, metrics.ForwardOutcomeUnresolved, 0)
		failed[instancedomain.MirrorsID] = err
	}
	for _, dest := range mirrors {
		deliveries = append(deliveries, &delivery{dest: dest, heartbeats: heartbeats})
	}

	return f.run(ctx, deliveries, failed)
}

func (f *Forwarder) Deliver(ctx context.Context, userID snowflake.ID, plan forwarderdomain.Plan) forwarderdomain.Result {
	if len(plan) == 0 {
		return emptyResult()
	}
	log := f.log.With(zap.String("user_id", userID.String()))

	deliveries := []*delivery{}
	unknown := []string{}
	failed := map[string]error{}

	plan, expanded, err := f.expandMirrors(ctx, userID, plan)
	if err != nil {
		log.Error("failed to list mirror destinations", zap.Error(err))
		metrics.Delivery().ObserveForward(metrics.DestinationKindMirror, metrics.ForwardOutcomeUnresolved, 0)
		failed[instancedomain.MirrorsID] = err
	}

	mirrorIDs := []string{}
	for _, id := range plan.IDs() {
		if id != instancedomain.UpstreamID {
			mirrorIDs = append(mirrorIDs, id)
			continue
		}
		token, ok := f.resolver.GetToken(ctx, userID)
		if !ok {
			failed[id] = errMissingToken
			continue
		}
		deliveries = append(deliveries, &delivery{dest: f.upstream(token), heartbeats: plan[id]})
	}

	if len(mirrorIDs) > 0 {
		known, err := f.registry.Lookup(ctx, userID, mirrorIDs)
		if err != nil {
			log.Error("failed to look up mirror destinations", zap.Error(err))
			for _, id := range mirrorIDs {
				failed[id] = err
			}
		} else {
			for _, id := range mirrorIDs {
				dest, ok := known[id]
				if !ok {
					unknown = append(unknown, id)
					continue
				}
				deliveries = append(deliveries, &delivery{dest: dest, heartbeats: plan[id]})
			}
		}
	}

	result := f.run(ctx, deliveries, failed)
	result.Unknown = append(result.Unknown, unknown...)
	if expanded != nil {
		result.Expanded = map[string][]string{instancedomain.MirrorsID: expanded}
	}
	return result
}

// expandMirrors replaces the mirrors marker with every active mirror, merging
// its heartbeats into batches already owed to a mirror. A nil expansion means
// the plan had no marker or the mirrors could not be listed; in the latter
// case the marker is dropped from the returned plan and err is set.
func (f *Forwarder) expandMirrors(ctx context.Context, userID snowflake.ID, plan forwarderdomain.Plan) (forwarderdomain.Plan, []string, error) {
	owed, ok := plan[instancedomain.MirrorsID]
	if !ok {
		return plan, nil, nil
	}
	out := make(forwarderdomain.Plan, len(plan))
	for id, heartbeats := range plan {
		if id != instancedomain.MirrorsID {
			out[id] = heartbeats
		}
	}

	mirrors, err := f.registry.Destinations(ctx, userID)
	if err != nil {
		return out, nil, err
	}
	expanded := make([]string, 0, len(mirrors))
	for _, dest := range mirrors {
		merged := make([]heartbeatdomain.Heartbeat, 0, len(out[dest.ID])+len(owed))
		merged = append(merged, out[dest.ID]...)
		out[dest.ID] = append(merged, owed...)
		expanded = append(expanded, dest.ID)
	}
	sort.Strings(expanded)
	return out, expanded, nil
}

// run fans out one goroutine per delivery and joins them before returning.
// Tasks never return an error so one failure cannot cancel its siblings.
func (f *Forwarder) run(ctx context.Context, deliveries []*delivery, failed map[string]error) forwarderdomain.Result {
	cfg := f.forwarding.Get()
	if failed == nil {
		failed = map[string]error{}
	}

	var g errgroup.Group
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}
	for _, d := range deliveries {
		g.Go(func() error {
			d.err = f.deliver(ctx, d, cfg.ForwardTimeout)
			return nil
		})
	}
	_ = g.Wait()

	result := emptyResult()
	for _, d := range deliveries {
		if d.err == nil {
			result.Delivered = append(result.Delivered, d.dest.ID)
			continue
		}
		failed[d.dest.ID] = d.err
	}
	for id, err := range failed {
		result.Failed = append(result.Failed, id)
		result.Errors[id] = obstracing.SafeError(err).Error()
	}
	sort.Strings(result.Delivered)
	sort.Strings(result.Failed)
	return result
}

func (f *Forwarder) deliver(ctx context.Context, d *delivery, timeout time.Duration) error {
	start := time.Now()
	kind := metrics.DestinationKindMirror
	if d.dest.IsUpstream() {
		kind = metrics.DestinationKindUpstream
	}
	log := f.log.With(zap.String("destination_id", d.dest.ID), zap.String("destination_kind", kind))

	// The upstream token was just resolved, so only mirrors are probed.
	if !d.dest.IsUpstream() && !f.prober.Probe(ctx, d.dest) {
		metrics.Delivery().ObserveForward(kind, metrics.ForwardOutcomeUnhealthy, time.Since(start))
		log.Debug("skipping unhealthy destination")
		return errUnhealthy
	}

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := f.sender.PostHeartbeats(sendCtx, d.dest, d.heartbeats)
	switch {
	case err == nil:
		metrics.Delivery().ObserveForward(kind, metrics.ForwardOutcomeDelivered, time.Since(start))
	case errors.Is(err, context.DeadlineExceeded):
		metrics.Delivery().ObserveForward(kind, metrics.ForwardOutcomeTimeout, time.Since(start))
		log.Warn("heartbeat delivery timed out", zap.Duration("timeout", timeout))
	default:
		metrics.Delivery().ObserveForward(kind, metrics.ForwardOutcomeFailed, time.Since(start))
		log.Warn("heartbeat delivery failed", zap.Error(obstracing.SafeError(err)))
	}
	return err
}

func (f *Forwarder) upstream(token credentialdomain.Token) instancedomain.Destination {
	return instancedomain.Destination{
		ID:      instancedomain.UpstreamID,
		Kind:    instancedomain.KindUpstream,
		Name:    "WakaTime",
		BaseURL: f.upstreamURL,
		Token:   token.AccessToken,
	}
}

func emptyResult() forwarderdomain.Result {
	return forwarderdomain.Result{
		Delivered: []string{},
		Failed:    []string{},
		Unknown:   []string{},
		Errors:    map[string]string{},
	}
}
