package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, key *EditorKey) error
	FindByHash(ctx context.Context, db *gorm.DB, hash string) (*EditorKey, error)
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*EditorKey, error)
	List(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]EditorKey, error)
	Deactivate(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) error
	TouchLastUsed(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

type Service interface {
	List(ctx context.Context, userID snowflake.ID) ([]Response, error)
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*SecretResponse, error)
	Revoke(ctx context.Context, userID snowflake.ID, id string) error
	Validate(ctx context.Context, raw string) (KeyOwner, error)
}

type CreateRequest struct {
	Name string `json:"name"`
}

type Response struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
}

type SecretResponse struct {
	ID  string `json:"id"`
	Key string `json:"api_key"`
}

var (
	ErrInvalidName   = errors.New("invalid_name")
	ErrInvalidKeyID  = errors.New("invalid_key_id")
	ErrInvalidFormat = errors.New("invalid_key_format")
	ErrInvalidKey    = errors.New("invalid_key")
	ErrNotFound      = errors.New("not_found")
)
