package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingChecker struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (c *countingChecker) Status(ctx context.Context, _ instancedomain.Destination) error {
	c.calls.Add(1)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func newTestProber(checker StatusChecker, probeTimeout time.Duration) *Prober {
	cfg := config.DefaultForwardingConfig()
	if probeTimeout > 0 {
		cfg.ProbeTimeout = probeTimeout
	}
	return New(Params{
		Log:        zap.NewNop(),
		Checker:    checker,
		Cache:      cache.NewMemoryPipelineCache(100),
		Clock:      clock.New(),
		Forwarding: config.NewStaticForwardingConfigHolder(cfg),
	}).(*Prober)
}

func TestProbeCachesResult(t *testing.T) {
	checker := &countingChecker{}
	p := newTestProber(checker, 0)
	dest := instancedomain.Destination{ID: "7", Kind: instancedomain.KindMirror}

	assert.True(t, p.Probe(context.Background(), dest))
	assert.True(t, p.Probe(context.Background(), dest))
	assert.EqualValues(t, 1, checker.calls.Load())
}

func TestProbeFailureIsNotRetried(t *testing.T) {
	checker := &countingChecker{err: errors.New("connection refused")}
	p := newTestProber(checker, 0)
	dest := instancedomain.Destination{ID: "7"}

	status := p.Status(context.Background(), dest)
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Error, "connection refused")
	assert.False(t, status.CheckedAt.IsZero())
	assert.EqualValues(t, 1, checker.calls.Load())

	assert.False(t, p.Probe(context.Background(), dest))
	assert.EqualValues(t, 1, checker.calls.Load())
}

func TestProbeTimesOut(t *testing.T) {
	checker := &countingChecker{delay: time.Second}
	p := newTestProber(checker, 20*time.Millisecond)

	start := time.Now()
	healthy := p.Probe(context.Background(), instancedomain.Destination{ID: "slow"})
	assert.False(t, healthy)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCancelledCallerLeavesHealthUncached(t *testing.T) {
	checker := &countingChecker{delay: time.Second}
	p := newTestProber(checker, 0)
	dest := instancedomain.Destination{ID: "7"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, p.Probe(ctx, dest))

	checker.delay = 0
	assert.True(t, p.Probe(context.Background(), dest))
	assert.EqualValues(t, 2, checker.calls.Load())
}
