package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/smallbiznis/heartline/internal/clock"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"github.com/smallbiznis/heartline/internal/observability/metrics"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    pendingdomain.Repository
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Queue struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    pendingdomain.Repository
	clock   clock.Clock
	metrics *metrics.Metrics
}

func New(p Params) pendingdomain.Queue {
	return &Queue{
		db:      p.DB,
		log:     p.Log.Named("pending.queue"),
		genID:   p.GenID,
		repo:    p.Repo,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (q *Queue) Enqueue(ctx context.Context, userID snowflake.ID, heartbeats []heartbeatdomain.Heartbeat, destinations []string) (int, error) {
	if len(heartbeats) == 0 {
		return 0, nil
	}
	owed := normalizeDestinations(destinations)
	if len(owed) == 0 {
		return 0, pendingdomain.ErrEmptyDestinations
	}

	now := q.clock.Now().UTC()
	entries := make([]pendingdomain.PendingDelivery, 0, len(heartbeats))
	for _, hb := range heartbeats {
		payload, err := sonic.Marshal(hb)
		if err != nil {
			return 0, fmt.Errorf("encode heartbeat: %w", err)
		}
		entries = append(entries, pendingdomain.PendingDelivery{
			ID:            q.genID.Generate(),
			UserID:        userID,
			Heartbeat:     datatypes.JSON(payload),
			Destinations:  append(pendingdomain.DestinationList(nil), owed...),
			NextAttemptAt: now,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err := q.repo.Insert(ctx, q.db, entries); err != nil {
		return 0, err
	}

	q.metrics.RecordPendingEnqueued(ctx, len(entries))
	q.log.Info("queued pending deliveries",
		zap.String("user_id", userID.String()),
		zap.Int("entries", len(entries)),
		zap.Strings("destinations", owed),
	)
	return len(entries), nil
}

func (q *Queue) Claim(ctx context.Context, limit int, lease time.Duration) ([]pendingdomain.Entry, string, error) {
	if limit <= 0 {
		return nil, "", pendingdomain.ErrInvalidClaimLimit
	}
	now := q.clock.Now().UTC()
	ids, err := q.repo.ClaimIDs(ctx, q.db, now, limit)
	if err != nil {
		return nil, "", err
	}
	if len(ids) == 0 {
		return []pendingdomain.Entry{}, "", nil
	}

	token := uuid.NewString()
	leased, err := q.repo.Lease(ctx, q.db, ids, token, now, now.Add(lease))
	if err != nil {
		return nil, "", err
	}
	if leased == 0 {
		return []pendingdomain.Entry{}, "", nil
	}

	rows, err := q.repo.ListByToken(ctx, q.db, token)
	if err != nil {
		return nil, "", err
	}
	entries := make([]pendingdomain.Entry, 0, len(rows))
	for _, row := range rows {
		var hb heartbeatdomain.Heartbeat
		if err := sonic.Unmarshal(row.Heartbeat, &hb); err != nil {
			// The row stays leased until locked_until passes.
			q.log.Error("failed to decode pending heartbeat", zap.String("pending_id", row.ID.String()), zap.Error(err))
			continue
		}
		entries = append(entries, pendingdomain.Entry{
			ID:           row.ID,
			UserID:       row.UserID,
			Heartbeat:    hb,
			Destinations: []string(row.Destinations),
			Attempts:     row.Attempts,
			CreatedAt:    row.CreatedAt,
		})
	}
	return entries, token, nil
}

func (q *Queue) Settle(ctx context.Context, req pendingdomain.SettleRequest) (string, error) {
	outcome := pendingdomain.SettleFailed
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, err := q.repo.FindLeased(ctx, tx, req.ID, req.LockToken)
		if err != nil {
			return err
		}
		if entry == nil {
			return pendingdomain.ErrLeaseLost
		}

		settled := append(append([]string{}, req.Succeeded...), req.Dropped...)
		remaining := entry.Destinations.Without(settled)
		progressed := len(remaining) < len(entry.Destinations)
		for _, id := range normalizeDestinations(req.Added) {
			if !remaining.Contains(id) {
				remaining = append(remaining, id)
			}
		}
		if len(remaining) == 0 {
			outcome = pendingdomain.SettleResolved
			return q.repo.Delete(ctx, tx, entry.ID)
		}
		if progressed {
			outcome = pendingdomain.SettlePartial
		}

		entry.Destinations = remaining
		entry.Attempts++
		entry.LastError = truncate(req.Failure)
		entry.NextAttemptAt = req.NextAttempt.UTC()
		entry.UpdatedAt = q.clock.Now().UTC()
		return q.repo.Reschedule(ctx, tx, entry)
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

func (q *Queue) Stats(ctx context.Context, userID *snowflake.ID) (*pendingdomain.Stats, error) {
	stats, err := q.repo.Stats(ctx, q.db, userID)
	if err != nil {
		return nil, err
	}
	if stats.OldestCreatedAt != nil {
		stats.OldestAgeSeconds = int64(q.clock.Now().Sub(*stats.OldestCreatedAt).Seconds())
	}
	return stats, nil
}

func normalizeDestinations(destinations []string) []string {
	seen := make(map[string]struct{}, len(destinations))
	out := make([]string, 0, len(destinations))
	for _, id := range destinations {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func truncate(value string) string {
	if len(value) <= maxErrorLength {
		return value
	}
	return value[:maxErrorLength]
}
