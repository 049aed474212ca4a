package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/smallbiznis/heartline/internal/apikey/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() apikeydomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, key *apikeydomain.EditorKey) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO editor_keys (id, user_id, name, key_hash, is_active, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key.ID,
		key.UserID,
		key.Name,
		key.KeyHash,
		key.IsActive,
		key.LastUsedAt,
		key.CreatedAt,
	).Error
}

func (r *repo) FindByHash(ctx context.Context, db *gorm.DB, hash string) (*apikeydomain.EditorKey, error) {
	var key apikeydomain.EditorKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, key_hash, is_active, last_used_at, created_at
		 FROM editor_keys WHERE key_hash = ?`,
		hash,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*apikeydomain.EditorKey, error) {
	var key apikeydomain.EditorKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, key_hash, is_active, last_used_at, created_at
		 FROM editor_keys WHERE user_id = ? AND id = ?`,
		userID,
		id,
	).Scan(&key).Error
	if err != nil {
		return nil, err
	}
	if key.ID == 0 {
		return nil, nil
	}
	return &key, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]apikeydomain.EditorKey, error) {
	var keys []apikeydomain.EditorKey
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, key_hash, is_active, last_used_at, created_at
		 FROM editor_keys WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	).Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *repo) Deactivate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE editor_keys SET is_active = ? WHERE user_id = ? AND id = ?`,
		false,
		userID,
		id,
	).Error
}

func (r *repo) TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE editor_keys SET last_used_at = ? WHERE id = ?`,
		at,
		id,
	).Error
}
