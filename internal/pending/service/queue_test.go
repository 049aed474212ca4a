package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/clock"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	"github.com/smallbiznis/heartline/internal/pending/repository"
	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var t0 = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *clock.FakeClock, *gorm.DB) {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&pendingdomain.PendingDelivery{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(t0)

	q := New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	}).(*Queue)
	return q, clk, conn
}

func heartbeats(n int) []heartbeatdomain.Heartbeat {
	out := make([]heartbeatdomain.Heartbeat, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, heartbeatdomain.Heartbeat{Time: float64(1700000000 + i), Entity: "main.go", Type: "file", Project: "heartline"})
	}
	return out
}

func TestEnqueueStoresOneEntryPerHeartbeat(t *testing.T) {
	q, _, conn := newTestQueue(t)
	ctx := context.Background()

	n, err := q.Enqueue(ctx, 7, heartbeats(3), []string{"wakatime", "11", "11", " "})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var rows []pendingdomain.PendingDelivery
	require.NoError(t, conn.Order("created_at, id").Find(&rows).Error)
	require.Len(t, rows, 3)
	assert.Equal(t, pendingdomain.DestinationList{"wakatime", "11"}, rows[0].Destinations)
	assert.Zero(t, rows[0].Attempts)

	_, err = q.Enqueue(ctx, 7, heartbeats(1), nil)
	assert.ErrorIs(t, err, pendingdomain.ErrEmptyDestinations)
}

func TestClaimLeasesOldestFirst(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, 7, heartbeats(1), []string{"a"})
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = q.Enqueue(ctx, 8, heartbeats(2), []string{"b"})
	require.NoError(t, err)

	entries, token, err := q.Claim(ctx, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEmpty(t, token)
	assert.Equal(t, snowflake.ID(7), entries[0].UserID)
	assert.Equal(t, "main.go", entries[0].Heartbeat.Entity)

	// Leased rows are invisible until the lease expires.
	again, _, err := q.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)

	clk.Advance(2 * time.Minute)
	expired, _, err := q.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Len(t, expired, 3)
}

func TestConcurrentClaimsNeverOverlap(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, 7, heartbeats(20), []string{"a"})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen = map[snowflake.ID]int{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entries, _, err := q.Claim(ctx, 10, time.Minute)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, e := range entries {
				seen[e.ID]++
			}
		}()
	}
	wg.Wait()

	for id, count := range seen {
		assert.Equal(t, 1, count, "entry %s claimed twice", id)
	}
	assert.Len(t, seen, 20)
}

func TestSettleRemovesOnlySucceededDestinations(t *testing.T) {
	q, clk, conn := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, 7, heartbeats(1), []string{"wakatime", "11", "12"})
	require.NoError(t, err)

	entries, token, err := q.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	next := clk.Now().Add(time.Minute)
	outcome, err := q.Settle(ctx, pendingdomain.SettleRequest{
		ID:          entries[0].ID,
		LockToken:   token,
		Succeeded:   []string{"11"},
		Dropped:     []string{"12"},
		Failure:     "wakatime: unexpected status 500",
		NextAttempt: next,
	})
	require.NoError(t, err)
	assert.Equal(t, pendingdomain.SettlePartial, outcome)

	var row pendingdomain.PendingDelivery
	require.NoError(t, conn.First(&row, "id = ?", entries[0].ID).Error)
	assert.Equal(t, pendingdomain.DestinationList{"wakatime"}, row.Destinations)
	assert.Equal(t, 1, row.Attempts)
	assert.Nil(t, row.LockToken)
	assert.Contains(t, row.LastError, "500")

	// Not due until the backoff elapses.
	none, _, err := q.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)

	clk.Advance(time.Minute)
	entries, token, err = q.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []string{"wakatime"}, entries[0].Destinations)

	outcome, err = q.Settle(ctx, pendingdomain.SettleRequest{ID: entries[0].ID, LockToken: token, Succeeded: []string{"wakatime"}})
	require.NoError(t, err)
	assert.Equal(t, pendingdomain.SettleResolved, outcome)

	var count int64
	require.NoError(t, conn.Model(&pendingdomain.PendingDelivery{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSettleWithStaleTokenFails(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, 7, heartbeats(1), []string{"a"})
	require.NoError(t, err)

	entries, _, err := q.Claim(ctx, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	_, err = q.Settle(ctx, pendingdomain.SettleRequest{ID: entries[0].ID, LockToken: "stale", Succeeded: []string{"a"}})
	assert.ErrorIs(t, err, pendingdomain.ErrLeaseLost)
}

func TestStatsReportsOldestEntry(t *testing.T) {
	q, clk, _ := newTestQueue(t)
	ctx := context.Background()

	stats, err := q.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Nil(t, stats.OldestCreatedAt)

	_, err = q.Enqueue(ctx, 7, heartbeats(2), []string{"a"})
	require.NoError(t, err)
	clk.Advance(90 * time.Second)

	stats, err = q.Stats(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, stats.Pending)
	assert.EqualValues(t, 90, stats.OldestAgeSeconds)

	other := snowflake.ID(8)
	stats, err = q.Stats(ctx, &other)
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
}

func TestSettleReplacesMarkerWithAddedDestinations(t *testing.T) {
	q, _, conn := newTestQueue(t)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, 7, heartbeats(1), []string{"mirrors", "wakatime"})
	require.NoError(t, err)

	entries, token, err := q.Claim(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	outcome, err := q.Settle(ctx, pendingdomain.SettleRequest{
		ID:        entries[0].ID,
		LockToken: token,
		Succeeded: []string{"mirrors"},
		Added:     []string{"12", "wakatime"},
		Failure:   "12: unexpected status 502",
	})
	require.NoError(t, err)
	assert.Equal(t, pendingdomain.SettlePartial, outcome)

	var row pendingdomain.PendingDelivery
	require.NoError(t, conn.First(&row, "id = ?", entries[0].ID).Error)
	assert.Equal(t, pendingdomain.DestinationList{"wakatime", "12"}, row.Destinations)
}
