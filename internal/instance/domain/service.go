package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, instance *Instance) error
	FindByID(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (*Instance, error)
	ListByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID, activeOnly bool) ([]Instance, error)
	SlugExists(ctx context.Context, db *gorm.DB, userID snowflake.ID, slug string) (bool, error)
	Delete(ctx context.Context, db *gorm.DB, userID, id snowflake.ID) (bool, error)
}

// Registry is the sole writer of user mirror destinations.
type Registry interface {
	List(ctx context.Context, userID snowflake.ID) ([]Response, error)
	Create(ctx context.Context, userID snowflake.ID, req CreateRequest) (*Response, error)
	Delete(ctx context.Context, userID snowflake.ID, id string) error
	Get(ctx context.Context, userID snowflake.ID, id string) (*Instance, error)
	Destinations(ctx context.Context, userID snowflake.ID) ([]Destination, error)
	Lookup(ctx context.Context, userID snowflake.ID, ids []string) (map[string]Destination, error)
}

type CreateRequest struct {
	Name    string `json:"name" validate:"required,max=100"`
	BaseURL string `json:"base_url" validate:"required,url"`
	APIKey  string `json:"api_key" validate:"required"`
}

type Response struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	BaseURL   string    `json:"base_url"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	ErrInvalidName    = errors.New("invalid_name")
	ErrInvalidBaseURL = errors.New("invalid_base_url")
	ErrInvalidAPIKey  = errors.New("invalid_api_key")
	ErrInvalidID      = errors.New("invalid_instance_id")
	ErrNotFound       = errors.New("instance_not_found")
)
