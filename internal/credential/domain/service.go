package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, provider string) (*Account, error)
	UpdateTokens(ctx context.Context, db *gorm.DB, id snowflake.ID, access, refresh string, expiresAt *time.Time, now time.Time) error
}

// Resolver returns a usable upstream bearer token for a user.
// A false result means the upstream must be skipped for this batch.
type Resolver interface {
	GetToken(ctx context.Context, userID snowflake.ID) (Token, bool)
}

// RefreshResult is the outcome of a refresh-token exchange.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token at the upstream token endpoint.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*RefreshResult, error)
}
