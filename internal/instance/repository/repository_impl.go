package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() instancedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, instance *instancedomain.Instance) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO instances (id, user_id, name, slug, base_url, api_key, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		instance.ID,
		instance.UserID,
		instance.Name,
		instance.Slug,
		instance.BaseURL,
		instance.APIKey,
		instance.IsActive,
		instance.CreatedAt,
		instance.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*instancedomain.Instance, error) {
	var instance instancedomain.Instance
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, name, slug, base_url, api_key, is_active, created_at, updated_at
		 FROM instances WHERE user_id = ? AND id = ?`,
		userID,
		id,
	).Scan(&instance).Error
	if err != nil {
		return nil, err
	}
	if instance.ID == 0 {
		return nil, nil
	}
	return &instance, nil
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, activeOnly bool) ([]instancedomain.Instance, error) {
	query := `SELECT id, user_id, name, slug, base_url, api_key, is_active, created_at, updated_at
		 FROM instances WHERE user_id = ?`
	args := []any{userID}
	if activeOnly {
		query += ` AND is_active = ?`
		args = append(args, true)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	var instances []instancedomain.Instance
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&instances).Error; err != nil {
		return nil, err
	}
	return instances, nil
}

func (r *repo) SlugExists(ctx context.Context, db *gorm.DB, userID snowflake.ID, slug string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM instances WHERE user_id = ? AND slug = ?`,
		userID,
		slug,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error) {
	res := db.WithContext(ctx).Exec(`DELETE FROM instances WHERE user_id = ? AND id = ?`, userID, id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
