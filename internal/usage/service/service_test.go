package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	"github.com/smallbiznis/heartline/internal/usage/repository"
	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type failingRepo struct {
	usagedomain.Repository
	failProject string
}

func (r *failingRepo) AddDelta(ctx context.Context, conn *gorm.DB, bucket *usagedomain.UsageBucket) error {
	if bucket.Project == r.failProject {
		return errors.New("disk full")
	}
	return r.Repository.AddDelta(ctx, conn, bucket)
}

func newTestService(t *testing.T, repo usagedomain.Repository) (*Service, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&usagedomain.UsageBucket{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	if repo == nil {
		repo = repository.Provide()
	}

	svc := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		GenID:      node,
		Repo:       repo,
		Cache:      cache.NewMemoryPipelineCache(128),
		Clock:      clock.NewFakeClock(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)),
		Forwarding: config.NewStaticForwardingConfigHolder(config.DefaultForwardingConfig()),
	}).(*Service)
	return svc, conn
}

func loadBuckets(t *testing.T, conn *gorm.DB, userID snowflake.ID) []usagedomain.UsageBucket {
	t.Helper()
	var buckets []usagedomain.UsageBucket
	require.NoError(t, conn.Where("user_id = ?", userID).Order("time_slot, project").Find(&buckets).Error)
	return buckets
}

func TestAggregateWriteHeartbeat(t *testing.T) {
	svc, conn := newTestService(t, nil)

	result, err := svc.Aggregate(context.Background(), 7, []heartbeatdomain.Heartbeat{
		{Time: 1700000000, Entity: "main.go", Type: "file", Project: "heartline", Language: "Go", IsWrite: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Zero(t, result.Failed)

	buckets := loadBuckets(t, conn, 7)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1699999800), buckets[0].TimeSlot)
	assert.Equal(t, "unknown", buckets[0].Category)
	assert.Equal(t, int64(15), buckets[0].TotalSeconds)
	assert.Equal(t, int64(1), buckets[0].HeartbeatCount)
}

func TestAggregateAccumulatesAcrossBatches(t *testing.T) {
	svc, conn := newTestService(t, nil)
	hb := heartbeatdomain.Heartbeat{Time: 1700000000, Entity: "main.go", Type: "file", Project: "heartline"}

	for i := 0; i < 3; i++ {
		_, err := svc.Aggregate(context.Background(), 7, []heartbeatdomain.Heartbeat{hb})
		require.NoError(t, err)
	}

	buckets := loadBuckets(t, conn, 7)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(30), buckets[0].TotalSeconds)
	assert.Equal(t, int64(3), buckets[0].HeartbeatCount)
}

func TestAggregateConcurrentWritersDoNotLoseUpdates(t *testing.T) {
	svc, conn := newTestService(t, nil)
	hb := heartbeatdomain.Heartbeat{Time: 1700000000, Entity: "main.go", Type: "file", Project: "heartline", IsWrite: true}

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Aggregate(context.Background(), 7, []heartbeatdomain.Heartbeat{hb})
			assert.NoError(t, err)
			assert.Equal(t, 1, result.Succeeded)
		}()
	}
	wg.Wait()

	buckets := loadBuckets(t, conn, 7)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(writers*15), buckets[0].TotalSeconds)
	assert.Equal(t, int64(writers), buckets[0].HeartbeatCount)
}

func TestAggregateReportsPartialFailure(t *testing.T) {
	svc, conn := newTestService(t, &failingRepo{Repository: repository.Provide(), failProject: "broken"})

	result, err := svc.Aggregate(context.Background(), 7, []heartbeatdomain.Heartbeat{
		{Time: 1700000000, Entity: "a", Type: "file", Project: "broken"},
		{Time: 1700000000, Entity: "b", Type: "file", Project: "fine"},
		{Time: 1700000060, Entity: "c", Type: "file", Project: "fine"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 2, result.Buckets)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Errors, 1)

	buckets := loadBuckets(t, conn, 7)
	require.Len(t, buckets, 1)
	assert.Equal(t, "fine", buckets[0].Project)
}

func TestSummariesReadsBuckets(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	_, err := svc.Aggregate(ctx, 7, []heartbeatdomain.Heartbeat{
		{Time: 1700000000, Entity: "a", Type: "file", Project: "heartline", Language: "Go", IsWrite: true},
	})
	require.NoError(t, err)

	day := time.Unix(1700000000, 0).UTC()
	resp, err := svc.Summaries(ctx, 7, usagedomain.SummariesRequest{Start: day, End: day})
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, float64(15), resp.Data[0].GrandTotal.TotalSeconds)
	assert.Equal(t, "heartline", resp.Data[0].Projects[0].Name)

	_, err = svc.Summaries(ctx, 7, usagedomain.SummariesRequest{Start: day, End: day.Add(-48 * time.Hour)})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidRange)
}
