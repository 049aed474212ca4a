package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	forwarderdomain "github.com/smallbiznis/heartline/internal/forwarder/domain"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"github.com/smallbiznis/heartline/internal/heartbeat/liveevents"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	pendingrepo "github.com/smallbiznis/heartline/internal/pending/repository"
	pendingservice "github.com/smallbiznis/heartline/internal/pending/service"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	usagerepo "github.com/smallbiznis/heartline/internal/usage/repository"
	usageservice "github.com/smallbiznis/heartline/internal/usage/service"
	userdomain "github.com/smallbiznis/heartline/internal/user/domain"
	userrepo "github.com/smallbiznis/heartline/internal/user/repository"
	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixedForwarder struct {
	result    forwarderdomain.Result
	calls     int
	onForward func()
	ctxErr    error
}

func (f *fixedForwarder) Forward(ctx context.Context, _ snowflake.ID, _ []heartbeatdomain.Heartbeat) forwarderdomain.Result {
	f.calls++
	if f.onForward != nil {
		f.onForward()
	}
	f.ctxErr = ctx.Err()
	return f.result
}

func (f *fixedForwarder) Deliver(context.Context, snowflake.ID, forwarderdomain.Plan) forwarderdomain.Result {
	return forwarderdomain.Result{}
}

func newTestIngest(t *testing.T, fwd forwarderdomain.Forwarder) (*Service, *gorm.DB, *liveevents.Hub) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&userdomain.User{}, &usagedomain.UsageBucket{}, &pendingdomain.PendingDelivery{}))
	require.NoError(t, conn.Create(&userdomain.User{ID: 7, Email: "dev@example.com"}).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC))
	hub := liveevents.NewHub()

	usage := usageservice.New(usageservice.Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       usagerepo.Provide(),
		Cache:      cache.NewMemoryPipelineCache(16),
		Clock:      clk,
		Forwarding: config.NewStaticForwardingConfigHolder(config.DefaultForwardingConfig()),
	})
	queue := pendingservice.New(pendingservice.Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  pendingrepo.Provide(),
		Clock: clk,
	})

	svc := New(Params{
		DB:        conn,
		Log:       zap.NewNop(),
		Usage:     usage,
		Forwarder: fwd,
		Queue:     queue,
		Users:     userrepo.Provide(),
		Clock:     clk,
		Hub:       hub,
	}).(*Service)
	return svc, conn, hub
}

func TestIngestRunsPipeline(t *testing.T) {
	fwd := &fixedForwarder{result: forwarderdomain.Result{
		Delivered: []string{"wakatime"},
		Failed:    []string{"11"},
	}}
	svc, conn, hub := newTestIngest(t, fwd)
	sub, _, err := hub.Subscribe("7")
	require.NoError(t, err)
	defer sub.Close()

	res, err := svc.Ingest(context.Background(), heartbeatdomain.Batch{
		UserID:    7,
		UserAgent: "wakatime/v1.90.0 vscode/1.85.0",
		Heartbeats: []heartbeatdomain.Heartbeat{
			{Time: 1700000000, Entity: "main.go", Type: "file", Project: "heartline", IsWrite: true},
			{Time: 1700000010, Entity: "main.go", Type: "file", Project: "heartline"},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Acks, 2)
	assert.NotEmpty(t, res.Acks[0].ID)
	assert.Equal(t, "main.go", res.Acks[0].Entity)
	assert.Equal(t, 1, res.Buckets)
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, []string{"11"}, res.Pending)

	var bucket usagedomain.UsageBucket
	require.NoError(t, conn.First(&bucket).Error)
	assert.Equal(t, int64(25), bucket.TotalSeconds)

	var pending []pendingdomain.PendingDelivery
	require.NoError(t, conn.Find(&pending).Error)
	require.Len(t, pending, 2)
	assert.Equal(t, pendingdomain.DestinationList{"11"}, pending[0].Destinations)
	assert.Contains(t, string(pending[0].Heartbeat), "wakatime/v1.90.0")

	var user userdomain.User
	require.NoError(t, conn.First(&user, "id = ?", 7).Error)
	assert.True(t, user.SetupCompleted)

	event := <-sub.Events()
	assert.Equal(t, res.Acks[0].ID, event.ID)
	assert.Equal(t, []string{"11"}, event.Pending)
}

func TestIngestWithoutFailuresQueuesNothing(t *testing.T) {
	fwd := &fixedForwarder{result: forwarderdomain.Result{Delivered: []string{"wakatime"}}}
	svc, conn, _ := newTestIngest(t, fwd)

	res, err := svc.Ingest(context.Background(), heartbeatdomain.Batch{
		UserID:     7,
		Heartbeats: []heartbeatdomain.Heartbeat{{Time: 1700000000, Entity: "x", Type: "app"}},
	})
	require.NoError(t, err)
	assert.Zero(t, res.Queued)

	var count int64
	require.NoError(t, conn.Model(&pendingdomain.PendingDelivery{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	fwd := &fixedForwarder{}
	svc, _, _ := newTestIngest(t, fwd)

	_, err := svc.Ingest(context.Background(), heartbeatdomain.Batch{UserID: 7})
	assert.ErrorIs(t, err, heartbeatdomain.ErrEmptyBatch)
	assert.Zero(t, fwd.calls)
}

func TestIngestQueuesOwedDestinationsAfterClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fwd := &fixedForwarder{
		result:    forwarderdomain.Result{Failed: []string{"wakatime"}},
		onForward: cancel,
	}
	svc, conn, _ := newTestIngest(t, fwd)

	res, err := svc.Ingest(ctx, heartbeatdomain.Batch{
		UserID:     7,
		Heartbeats: []heartbeatdomain.Heartbeat{{Time: 1700000000, Entity: "main.go", Type: "file"}},
	})
	require.NoError(t, err)
	require.Error(t, ctx.Err())
	assert.NoError(t, fwd.ctxErr)
	assert.Equal(t, 1, res.Queued)

	var pending []pendingdomain.PendingDelivery
	require.NoError(t, conn.Find(&pending).Error)
	require.Len(t, pending, 1)
	assert.Equal(t, pendingdomain.DestinationList{"wakatime"}, pending[0].Destinations)

	var user userdomain.User
	require.NoError(t, conn.First(&user, "id = ?", 7).Error)
	assert.True(t, user.SetupCompleted)
}
