package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() credentialdomain.Repository {
	return &repo{}
}

func (r *repo) FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, provider string) (*credentialdomain.Account, error) {
	var account credentialdomain.Account
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
		 FROM accounts WHERE user_id = ? AND provider = ?`,
		userID,
		provider,
	).Scan(&account).Error
	if err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, nil
	}
	return &account, nil
}

func (r *repo) UpdateTokens(ctx context.Context, db *gorm.DB, id snowflake.ID, access, refresh string, expiresAt *time.Time, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE accounts SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ? WHERE id = ?`,
		access,
		refresh,
		expiresAt,
		now,
		id,
	).Error
}
