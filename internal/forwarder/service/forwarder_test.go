package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/config"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	forwarderdomain "github.com/smallbiznis/heartline/internal/forwarder/domain"
	healthdomain "github.com/smallbiznis/heartline/internal/health/domain"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubResolver struct {
	token string
}

func (r stubResolver) GetToken(context.Context, snowflake.ID) (credentialdomain.Token, bool) {
	if r.token == "" {
		return credentialdomain.Token{}, false
	}
	return credentialdomain.Token{AccessToken: r.token, ExpiresAt: time.Now().Add(time.Hour)}, true
}

type stubRegistry struct {
	instancedomain.Registry
	mirrors []instancedomain.Destination
	listErr error
}

func (r stubRegistry) Destinations(context.Context, snowflake.ID) ([]instancedomain.Destination, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.mirrors, nil
}

func (r stubRegistry) Lookup(_ context.Context, _ snowflake.ID, ids []string) (map[string]instancedomain.Destination, error) {
	out := map[string]instancedomain.Destination{}
	for _, id := range ids {
		for _, m := range r.mirrors {
			if m.ID == id {
				out[id] = m
			}
		}
	}
	return out, nil
}

type stubProber struct {
	unhealthy map[string]bool
}

func (p stubProber) Probe(_ context.Context, dest instancedomain.Destination) bool {
	return !p.unhealthy[dest.ID]
}

func (p stubProber) Status(ctx context.Context, dest instancedomain.Destination) healthdomain.Status {
	return healthdomain.Status{Healthy: p.Probe(ctx, dest)}
}

type mockSender struct {
	mock.Mock
	mu   sync.Mutex
	sent map[string]int
}

func (m *mockSender) PostHeartbeats(ctx context.Context, dest instancedomain.Destination, heartbeats []heartbeatdomain.Heartbeat) error {
	m.mu.Lock()
	if m.sent == nil {
		m.sent = map[string]int{}
	}
	m.sent[dest.ID] += len(heartbeats)
	m.mu.Unlock()
	args := m.Called(ctx, dest.ID)
	return args.Error(0)
}

func newTestForwarder(resolver stubResolver, registry stubRegistry, prober stubProber, sender forwarderdomain.Sender, cfg config.ForwardingConfig) *Forwarder {
	return New(Params{
		Log:        zap.NewNop(),
		Config:     config.Config{Upstream: config.UpstreamConfig{BaseURL: "https://upstream.example/api/v1"}},
		Resolver:   resolver,
		Registry:   registry,
		Prober:     prober,
		Sender:     sender,
		Forwarding: config.NewStaticForwardingConfigHolder(cfg),
	}).(*Forwarder)
}

var batch = []heartbeatdomain.Heartbeat{{Time: 1700000000, Entity: "main.go", Type: "file"}}

func TestForwardPartitionsDestinations(t *testing.T) {
	sender := &mockSender{}
	sender.On("PostHeartbeats", mock.Anything, instancedomain.UpstreamID).Return(nil)
	sender.On("PostHeartbeats", mock.Anything, "1").Return(errors.New("status 500"))

	f := newTestForwarder(
		stubResolver{token: "tok"},
		stubRegistry{mirrors: []instancedomain.Destination{
			{ID: "1", Kind: instancedomain.KindMirror, BaseURL: "https://a.example"},
			{ID: "2", Kind: instancedomain.KindMirror, BaseURL: "https://b.example"},
		}},
		stubProber{unhealthy: map[string]bool{"2": true}},
		sender,
		config.DefaultForwardingConfig(),
	)

	result := f.Forward(context.Background(), 7, batch)
	assert.Equal(t, []string{instancedomain.UpstreamID}, result.Delivered)
	assert.Equal(t, []string{"1", "2"}, result.Failed)
	assert.Empty(t, result.Unknown)
	assert.Contains(t, result.Errors["1"], "status 500")
	assert.Contains(t, result.Errors["2"], "unhealthy")

	// Unhealthy mirrors are never sent to.
	assert.Zero(t, sender.sent["2"])
	sender.AssertExpectations(t)
}

func TestForwardSkipsUpstreamWithoutToken(t *testing.T) {
	sender := &mockSender{}
	sender.On("PostHeartbeats", mock.Anything, "1").Return(nil)

	f := newTestForwarder(
		stubResolver{},
		stubRegistry{mirrors: []instancedomain.Destination{{ID: "1", Kind: instancedomain.KindMirror}}},
		stubProber{},
		sender,
		config.DefaultForwardingConfig(),
	)

	result := f.Forward(context.Background(), 7, batch)
	assert.Equal(t, []string{"1"}, result.Delivered)
	assert.Empty(t, result.Failed)
	assert.Zero(t, sender.sent[instancedomain.UpstreamID])
}

func TestDeliverIsScopedToPlan(t *testing.T) {
	sender := &mockSender{}
	sender.On("PostHeartbeats", mock.Anything, "2").Return(nil)

	f := newTestForwarder(
		stubResolver{token: "tok"},
		stubRegistry{mirrors: []instancedomain.Destination{{ID: "1"}, {ID: "2"}}},
		stubProber{},
		sender,
		config.DefaultForwardingConfig(),
	)

	result := f.Deliver(context.Background(), 7, forwarderdomain.Plan{
		"2":   batch,
		"404": batch,
	})
	assert.Equal(t, []string{"2"}, result.Delivered)
	assert.Empty(t, result.Failed)
	assert.Equal(t, []string{"404"}, result.Unknown)
	assert.Zero(t, sender.sent[instancedomain.UpstreamID])
	assert.Zero(t, sender.sent["1"])
}

func TestDeliverUpstreamWithoutTokenFails(t *testing.T) {
	f := newTestForwarder(stubResolver{}, stubRegistry{}, stubProber{}, &mockSender{}, config.DefaultForwardingConfig())

	result := f.Deliver(context.Background(), 7, forwarderdomain.Plan{instancedomain.UpstreamID: batch})
	assert.Equal(t, []string{instancedomain.UpstreamID}, result.Failed)
	assert.Empty(t, result.Delivered)
}

type slowSender struct {
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *slowSender) PostHeartbeats(ctx context.Context, _ instancedomain.Destination, _ []heartbeatdomain.Heartbeat) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	select {
	case <-time.After(s.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestForwardTimesOutEachDeliveryIndependently(t *testing.T) {
	cfg := config.DefaultForwardingConfig()
	cfg.ForwardTimeout = 50 * time.Millisecond
	sender := &slowSender{delay: time.Second}

	mirrors := []instancedomain.Destination{{ID: "1"}, {ID: "2"}, {ID: "3"}}
	f := newTestForwarder(stubResolver{}, stubRegistry{mirrors: mirrors}, stubProber{}, sender, cfg)

	start := time.Now()
	result := f.Forward(context.Background(), 7, batch)
	elapsed := time.Since(start)

	assert.Equal(t, []string{"1", "2", "3"}, result.Failed)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.EqualValues(t, 3, sender.peak.Load())
}

func TestForwardRespectsConcurrencyLimit(t *testing.T) {
	cfg := config.DefaultForwardingConfig()
	cfg.MaxConcurrency = 2
	sender := &slowSender{delay: 20 * time.Millisecond}

	mirrors := []instancedomain.Destination{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}
	f := newTestForwarder(stubResolver{}, stubRegistry{mirrors: mirrors}, stubProber{}, sender, cfg)

	result := f.Forward(context.Background(), 7, batch)
	require.Len(t, result.Delivered, 4)
	assert.LessOrEqual(t, sender.peak.Load(), int32(2))
}

func TestForwardOwesMirrorsWhenRegistryFails(t *testing.T) {
	sender := &mockSender{}
	sender.On("PostHeartbeats", mock.Anything, instancedomain.UpstreamID).Return(nil)

	f := newTestForwarder(
		stubResolver{token: "tok"},
		stubRegistry{listErr: errors.New("connection reset by peer")},
		stubProber{},
		sender,
		config.DefaultForwardingConfig(),
	)

	result := f.Forward(context.Background(), 7, batch)
	assert.Equal(t, []string{instancedomain.UpstreamID}, result.Delivered)
	assert.Equal(t, []string{instancedomain.MirrorsID}, result.Failed)
	assert.Contains(t, result.Errors[instancedomain.MirrorsID], "connection reset")
}

func TestDeliverExpandsMirrorsMarker(t *testing.T) {
	sender := &mockSender{}
	sender.On("PostHeartbeats", mock.Anything, "1").Return(nil)
	sender.On("PostHeartbeats", mock.Anything, "2").Return(errors.New("status 502"))

	f := newTestForwarder(
		stubResolver{},
		stubRegistry{mirrors: []instancedomain.Destination{{ID: "1"}, {ID: "2"}}},
		stubProber{},
		sender,
		config.DefaultForwardingConfig(),
	)

	second := []heartbeatdomain.Heartbeat{{Time: 1700000300, Entity: "util.go", Type: "file"}}
	result := f.Deliver(context.Background(), 7, forwarderdomain.Plan{
		instancedomain.MirrorsID: batch,
		"1":                      second,
	})
	assert.Equal(t, []string{"1", "2"}, result.Expanded[instancedomain.MirrorsID])
	assert.Equal(t, []string{"1"}, result.Delivered)
	assert.Equal(t, []string{"2"}, result.Failed)
	assert.NotContains(t, result.Failed, instancedomain.MirrorsID)

	// The marker's batch is merged into what mirror 1 was already owed.
	assert.Equal(t, 2, sender.sent["1"])
	assert.Equal(t, 1, sender.sent["2"])
}

func TestDeliverKeepsMarkerWhenMirrorsStillUnlisted(t *testing.T) {
	f := newTestForwarder(
		stubResolver{},
		stubRegistry{listErr: errors.New("timeout")},
		stubProber{},
		&mockSender{},
		config.DefaultForwardingConfig(),
	)

	result := f.Deliver(context.Background(), 7, forwarderdomain.Plan{instancedomain.MirrorsID: batch})
	assert.Equal(t, []string{instancedomain.MirrorsID}, result.Failed)
	assert.Nil(t, result.Expanded)
	assert.Empty(t, result.Delivered)
}
