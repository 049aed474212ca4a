package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ProviderWakaTime is the provider name of upstream OAuth accounts.
const ProviderWakaTime = "wakatime"

// Account stores the upstream OAuth credential of a user.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	UserID       snowflake.ID `gorm:"column:user_id;not null;uniqueIndex:ux_accounts_user_provider,priority:1"`
	Provider     string       `gorm:"type:text;not null;uniqueIndex:ux_accounts_user_provider,priority:2"`
	AccessToken  string       `gorm:"column:access_token;type:text;not null"`
	RefreshToken string       `gorm:"column:refresh_token;type:text"`
	ExpiresAt    *time.Time   `gorm:"column:expires_at"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// Token is a bearer credential for the upstream provider.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token is usable at now with the given safety margin.
func (t Token) Valid(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	if t.ExpiresAt.IsZero() {
		return true
	}
	return t.ExpiresAt.After(now.Add(margin))
}
