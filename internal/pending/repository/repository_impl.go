package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	"gorm.io/gorm"
)

const insertBatchSize = 100

const selectColumns = `id, user_id, heartbeat, destinations, attempts, next_attempt_at, locked_until, lock_token, last_error, created_at, updated_at`

type repo struct{}

func Provide() pendingdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entries []pendingdomain.PendingDelivery) error {
	if len(entries) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(entries, insertBatchSize).Error
}

// ClaimIDs lists due, unleased entries oldest first.
func (r *repo) ClaimIDs(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM pending_deliveries
		 WHERE next_attempt_at <= ? AND (locked_until IS NULL OR locked_until <= ?)
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		now,
		now,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Lease re-checks the claim predicate in the UPDATE itself, so a row taken by a
// concurrent claimer between ClaimIDs and Lease is skipped.
func (r *repo) Lease(ctx context.Context, db *gorm.DB, ids []snowflake.ID, token string, now, until time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE pending_deliveries
		 SET lock_token = ?, locked_until = ?, updated_at = ?
		 WHERE id IN ? AND next_attempt_at <= ? AND (locked_until IS NULL OR locked_until <= ?)`,
		token,
		until,
		now,
		ids,
		now,
		now,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) ListByToken(ctx context.Context, db *gorm.DB, token string) ([]pendingdomain.PendingDelivery, error) {
	var entries []pendingdomain.PendingDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM pending_deliveries
		 WHERE lock_token = ?
		 ORDER BY created_at ASC, id ASC`,
		token,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) FindLeased(ctx context.Context, db *gorm.DB, id snowflake.ID, token string) (*pendingdomain.PendingDelivery, error) {
	var entry pendingdomain.PendingDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+` FROM pending_deliveries WHERE id = ? AND lock_token = ?`,
		id,
		token,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(`DELETE FROM pending_deliveries WHERE id = ?`, id).Error
}

// Reschedule stores the remaining destinations and releases the lease.
func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, entry *pendingdomain.PendingDelivery) error {
	return db.WithContext(ctx).Exec(
		`UPDATE pending_deliveries
		 SET destinations = ?, attempts = ?, last_error = ?, next_attempt_at = ?,
		     lock_token = NULL, locked_until = NULL, updated_at = ?
		 WHERE id = ?`,
		entry.Destinations,
		entry.Attempts,
		entry.LastError,
		entry.NextAttemptAt,
		entry.UpdatedAt,
		entry.ID,
	).Error
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB, userID *snowflake.ID) (*pendingdomain.Stats, error) {
	where := ""
	args := []any{}
	if userID != nil {
		where = ` WHERE user_id = ?`
		args = append(args, *userID)
	}

	var count int64
	if err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM pending_deliveries`+where, args...).Scan(&count).Error; err != nil {
		return nil, err
	}
	stats := &pendingdomain.Stats{Pending: count}
	if count == 0 {
		return stats, nil
	}

	var oldest struct {
		CreatedAt time.Time
	}
	err := db.WithContext(ctx).Raw(
		`SELECT created_at FROM pending_deliveries`+where+` ORDER BY created_at ASC, id ASC LIMIT 1`,
		args...,
	).Scan(&oldest).Error
	if err != nil {
		return nil, err
	}
	if !oldest.CreatedAt.IsZero() {
		createdAt := oldest.CreatedAt.UTC()
		stats.OldestCreatedAt = &createdAt
	}
	return stats, nil
}
