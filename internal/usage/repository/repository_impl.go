package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

const upsertAddOnConflict = `INSERT INTO usage_buckets
	(id, user_id, time_slot, project, language, category, total_seconds, heartbeat_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, time_slot, project, language, category) DO UPDATE SET
		total_seconds = usage_buckets.total_seconds + excluded.total_seconds,
		heartbeat_count = usage_buckets.heartbeat_count + excluded.heartbeat_count,
		updated_at = excluded.updated_at`

const upsertAddDuplicateKey = `INSERT INTO usage_buckets
	(id, user_id, time_slot, project, language, category, total_seconds, heartbeat_count, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON DUPLICATE KEY UPDATE
		total_seconds = total_seconds + VALUES(total_seconds),
		heartbeat_count = heartbeat_count + VALUES(heartbeat_count),
		updated_at = VALUES(updated_at)`

// AddDelta adds the bucket's seconds and count to the stored row in a single
// statement, creating the row on first write. Concurrent writers never lose updates.
func (r *repo) AddDelta(ctx context.Context, db *gorm.DB, bucket *usagedomain.UsageBucket) error {
	query := upsertAddOnConflict
	if db.Dialector.Name() == "mysql" {
		query = upsertAddDuplicateKey
	}
	return db.WithContext(ctx).Exec(query,
		bucket.ID,
		bucket.UserID,
		bucket.TimeSlot,
		bucket.Project,
		bucket.Language,
		bucket.Category,
		bucket.TotalSeconds,
		bucket.HeartbeatCount,
		bucket.CreatedAt,
		bucket.UpdatedAt,
	).Error
}

func (r *repo) ListRange(ctx context.Context, db *gorm.DB, userID snowflake.ID, fromSlot, toSlot int64) ([]usagedomain.UsageBucket, error) {
	var buckets []usagedomain.UsageBucket
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, time_slot, project, language, category, total_seconds, heartbeat_count, created_at, updated_at
		 FROM usage_buckets
		 WHERE user_id = ? AND time_slot >= ? AND time_slot < ?
		 ORDER BY time_slot ASC, project ASC, language ASC, category ASC`,
		userID,
		fromSlot,
		toSlot,
	).Scan(&buckets).Error
	if err != nil {
		return nil, err
	}
	return buckets, nil
}
