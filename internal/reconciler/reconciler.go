// Package reconciler drains the pending delivery queue: it re-forwards each
// entry to the destinations it still owes and settles what went through.
package reconciler

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cenkalti/backoff/v4"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	forwarderdomain "github.com/smallbiznis/heartline/internal/forwarder/domain"
	"github.com/smallbiznis/heartline/internal/metricspush"
	obscontext "github.com/smallbiznis/heartline/internal/observability/context"
	obslogger "github.com/smallbiznis/heartline/internal/observability/logger"
	"github.com/smallbiznis/heartline/internal/observability/metrics"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	skipReasonLocked = "locked"
	settleTimeout    = 10 * time.Second
)

// RunLocker serializes runs across processes.
type RunLocker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) (bool, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Queue      pendingdomain.Queue
	Forwarder  forwarderdomain.Forwarder
	Clock      clock.Clock
	Forwarding *config.ForwardingConfigHolder
	Locker     RunLocker           `optional:"true"`
	Pusher     metricspush.Pusher  `optional:"true"`
	Gatherer   prometheus.Gatherer `optional:"true"`
}

// Result summarizes one run. Errors joins every per-user failure; a run with
// errors still settles everything it could.
type Result struct {
	RunID             string `json:"run_id"`
	Skipped           bool   `json:"skipped"`
	Claimed           int    `json:"claimed"`
	Resolved          int    `json:"resolved"`
	PartiallyResolved int    `json:"partially_resolved"`
	Failed            int    `json:"failed"`
	Pruned            int    `json:"pruned"`
	Errors            error  `json:"-"`
}

type Reconciler struct {
	log        *zap.Logger
	queue      pendingdomain.Queue
	forwarder  forwarderdomain.Forwarder
	clock      clock.Clock
	forwarding *config.ForwardingConfigHolder
	locker     RunLocker
	lockName   string
	lockTTL    time.Duration
	pusher     metricspush.Pusher
	gatherer   prometheus.Gatherer
}

func New(p Params) *Reconciler {
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Reconciler{
		log:        p.Log.Named("reconciler"),
		queue:      p.Queue,
		forwarder:  p.Forwarder,
		clock:      p.Clock,
		forwarding: p.Forwarding,
		locker:     p.Locker,
		lockName:   strings.TrimSpace(p.Config.RateLimit.ReconcileLockName),
		lockTTL:    p.Config.RateLimit.ReconcileLockTTL,
		pusher:     p.Pusher,
		gatherer:   gatherer,
	}
}

// RunOnce claims one batch of due entries and reconciles it.
func (r *Reconciler) RunOnce(parent context.Context) (Result, error) {
	cfg := r.forwarding.Get().Reconciler
	result := Result{RunID: r.newRunID()}

	ctx := obscontext.WithActor(parent, "system", "reconciler")
	log := obslogger.WithContext(ctx, r.log).With(zap.String("run_id", result.RunID))
	delivery := metrics.Delivery()

	run := func(ctx context.Context) error {
		start := r.clock.Now()
		delivery.IncRun()
		defer func() {
			delivery.ObserveRunDuration(r.clock.Now().Sub(start))
			r.push(ctx, log)
		}()

		runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
		defer cancel()
		err := r.reconcile(runCtx, cfg, &result, log)
		if errors.Is(err, context.DeadlineExceeded) {
			delivery.IncRunTimeout()
		}
		return err
	}

	if r.locker != nil && r.lockName != "" {
		ran, err := r.locker.WithLock(ctx, r.lockName, r.lockTTL, run)
		switch {
		case err != nil && !ran:
			// Row leases still prevent double claims without the lock.
			log.Warn("reconcile lock unavailable, running without it", zap.Error(err))
		case !ran:
			result.Skipped = true
			delivery.IncRunSkipped(skipReasonLocked)
			log.Info("reconcile run skipped, another run holds the lock")
			return result, nil
		default:
			return r.finish(result, err, log)
		}
	}
	return r.finish(result, run(ctx), log)
}

func (r *Reconciler) finish(result Result, err error, log *zap.Logger) (Result, error) {
	if err != nil {
		metrics.Delivery().IncRunError(err)
		log.Error("reconcile run failed", zap.Error(err))
		return result, err
	}
	if result.Errors != nil {
		log.Warn("reconcile run finished with errors",
			zap.Int("claimed", result.Claimed),
			zap.Int("resolved", result.Resolved),
			zap.Int("failed", result.Failed),
			zap.Error(result.Errors),
		)
		return result, nil
	}
	if result.Claimed > 0 {
		log.Info("reconcile run finished",
			zap.Int("claimed", result.Claimed),
			zap.Int("resolved", result.Resolved),
			zap.Int("partially_resolved", result.PartiallyResolved),
			zap.Int("failed", result.Failed),
			zap.Int("pruned", result.Pruned),
		)
	}
	return result, nil
}

func (r *Reconciler) reconcile(ctx context.Context, cfg config.ReconcilerConfig, result *Result, log *zap.Logger) error {
	entries, token, err := r.queue.Claim(ctx, cfg.BatchSize, cfg.Lease)
	if err != nil {
		return fmt.Errorf("claim pending entries: %w", err)
	}
	result.Claimed = len(entries)
	if len(entries) == 0 {
		return nil
	}

	users, byUser := groupByUser(entries)
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			// Unsettled entries stay leased and return after the lease expires.
			result.Errors = errors.Join(result.Errors, err)
			break
		}
		if err := r.reconcileUser(ctx, cfg, userID, byUser[userID], token, result, log); err != nil {
			metrics.Delivery().IncRunError(err)
			result.Errors = errors.Join(result.Errors, fmt.Errorf("user %s: %w", userID, err))
		}
	}
	return nil
}

// reconcileUser isolates one user's pass; a panic fails only that user's entries.
func (r *Reconciler) reconcileUser(
	ctx context.Context,
	cfg config.ReconcilerConfig,
	userID snowflake.ID,
	entries []pendingdomain.Entry,
	token string,
	result *Result,
	log *zap.Logger,
) (err error) {
	log = log.With(zap.String("user_id", userID.String()))
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("reconcile pass panicked", zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", metrics.ErrReconcilePanic, rec)
		}
	}()

	plan := forwarderdomain.Plan{}
	for _, entry := range entries {
		for _, dest := range entry.Destinations {
			plan[dest] = append(plan[dest], entry.Heartbeat)
		}
	}
	outcome := r.forwarder.Deliver(ctx, userID, plan)

	delivered := toSet(outcome.Delivered)
	unknown := toSet(outcome.Unknown)
	now := r.clock.Now()
	delivery := metrics.Delivery()

	// Settlement must outlive the run context: a delivery that already
	// succeeded is recorded even if the caller hung up or the run timed out.
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	var settleErr error
	for _, entry := range entries {
		req := pendingdomain.SettleRequest{ID: entry.ID, LockToken: token}
		failures := []string{}
		for _, dest := range entry.Destinations {
			if concrete, ok := outcome.Expanded[dest]; ok {
				// The marker is settled; mirrors that failed are owed by id from now on.
				req.Succeeded = append(req.Succeeded, dest)
				for _, id := range concrete {
					if !delivered[id] {
						req.Added = append(req.Added, id)
						failures = append(failures, id+": "+failureMessage(outcome, id))
					}
				}
				continue
			}
			switch {
			case delivered[dest]:
				req.Succeeded = append(req.Succeeded, dest)
			case unknown[dest]:
				req.Dropped = append(req.Dropped, dest)
			default:
				failures = append(failures, dest+": "+failureMessage(outcome, dest))
			}
		}
		req.Failure = strings.Join(failures, "; ")
		req.NextAttempt = now.Add(RetryDelay(cfg, entry.Attempts+1))

		settled, err := r.queue.Settle(settleCtx, req)
		if err != nil {
			settleErr = errors.Join(settleErr, fmt.Errorf("settle %s: %w", entry.ID, err))
			continue
		}
		if len(req.Dropped) > 0 {
			result.Pruned++
			delivery.AddEntries(metrics.ReconcileOutcomePruned, 1)
		}
		switch settled {
		case pendingdomain.SettleResolved:
			result.Resolved++
			delivery.AddEntries(metrics.ReconcileOutcomeResolved, 1)
		case pendingdomain.SettlePartial:
			result.PartiallyResolved++
			delivery.AddEntries(metrics.ReconcileOutcomePartial, 1)
		default:
			result.Failed++
			delivery.AddEntries(metrics.ReconcileOutcomeFailed, 1)
		}
	}
	return settleErr
}

func failureMessage(outcome forwarderdomain.Result, dest string) string {
	if msg := outcome.Errors[dest]; msg != "" {
		return msg
	}
	return "delivery failed"
}

// RetryDelay is the wait before the given attempt: initial * 2^(attempt-1), capped, without jitter.
func RetryDelay(cfg config.ReconcilerConfig, attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BackoffInitial
	b.MaxInterval = cfg.BackoffMax
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.InitialInterval
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}

// RunForever runs until ctx is cancelled, one run per configured interval.
func (r *Reconciler) RunForever(ctx context.Context) {
	interval := r.forwarding.Get().Reconciler.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.log.Warn("reconciler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Pick up interval changes from a reloaded forwarding.yml.
		if next := r.forwarding.Get().Reconciler.Interval; next != interval && next > 0 {
			interval = next
			ticker.Reset(interval)
		}
	}
}

func (r *Reconciler) push(ctx context.Context, log *zap.Logger) {
	if r.pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.pusher.Push(pushCtx, r.gatherer); err != nil {
		log.Warn("metrics push failed", zap.Error(err))
	}
}

func (r *Reconciler) newRunID() string {
	return ulid.MustNew(ulid.Timestamp(r.clock.Now()), rand.Reader).String()
}

func groupByUser(entries []pendingdomain.Entry) ([]snowflake.ID, map[snowflake.ID][]pendingdomain.Entry) {
	byUser := map[snowflake.ID][]pendingdomain.Entry{}
	for _, entry := range entries {
		byUser[entry.UserID] = append(byUser[entry.UserID], entry)
	}
	users := make([]snowflake.ID, 0, len(byUser))
	for id := range byUser {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, byUser
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
