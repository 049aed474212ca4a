package service

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/heartline/internal/clock"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/smallbiznis/heartline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxSlugAttempts = 20

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  instancedomain.Repository
	Clock clock.Clock
}

type Registry struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  instancedomain.Repository
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) instancedomain.Registry {
	return &Registry{
		db:    p.DB,
		log:   p.Log.Named("instance.registry"),
		repo:  p.Repo,
		genID: p.GenID,
		clock: p.Clock,
	}
}

func (r *Registry) List(ctx context.Context, userID snowflake.ID) ([]instancedomain.Response, error) {
	items, err := r.repo.ListByUser(ctx, r.db, userID, false)
	if err != nil {
		return nil, err
	}
	resp := make([]instancedomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (r *Registry) Create(ctx context.Context, userID snowflake.ID, req instancedomain.CreateRequest) (*instancedomain.Response, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, instancedomain.ErrInvalidName
	}
	baseURL, err := normalizeBaseURL(req.BaseURL)
	if err != nil {
		return nil, err
	}
	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		return nil, instancedomain.ErrInvalidAPIKey
	}

	now := r.clock.Now()
	instance := &instancedomain.Instance{
		ID:        r.genID.Generate(),
		UserID:    userID,
		Name:      name,
		BaseURL:   baseURL,
		APIKey:    apiKey,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		instanceSlug, err := r.uniqueSlug(ctx, tx, userID, name)
		if err != nil {
			return err
		}
		instance.Slug = instanceSlug
		return r.repo.Insert(ctx, tx, instance)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("%w: slug already taken", instancedomain.ErrInvalidName)
		}
		return nil, err
	}

	r.log.Info("instance registered",
		zap.String("user_id", userID.String()),
		zap.String("instance_id", instance.ID.String()),
		zap.String("slug", instance.Slug),
	)
	resp := toResponse(instance)
	return &resp, nil
}

func (r *Registry) Delete(ctx context.Context, userID snowflake.ID, id string) error {
	instanceID, err := parseID(id)
	if err != nil {
		return err
	}
	deleted, err := r.repo.Delete(ctx, r.db, userID, instanceID)
	if err != nil {
		return err
	}
	if !deleted {
		return instancedomain.ErrNotFound
	}
	return nil
}

func (r *Registry) Get(ctx context.Context, userID snowflake.ID, id string) (*instancedomain.Instance, error) {
	instanceID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	instance, err := r.repo.FindByID(ctx, r.db, userID, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, instancedomain.ErrNotFound
	}
	return instance, nil
}

// Destinations returns every active mirror of the user.
func (r *Registry) Destinations(ctx context.Context, userID snowflake.ID) ([]instancedomain.Destination, error) {
	items, err := r.repo.ListByUser(ctx, r.db, userID, true)
	if err != nil {
		return nil, err
	}
	dests := make([]instancedomain.Destination, 0, len(items))
	for i := range items {
		dests = append(dests, items[i].Destination())
	}
	return dests, nil
}

// Lookup resolves mirror destination ids. Ids of deleted instances are absent
// from the result; inactive instances are returned so callers can keep owing them.
func (r *Registry) Lookup(ctx context.Context, userID snowflake.ID, ids []string) (map[string]instancedomain.Destination, error) {
	out := make(map[string]instancedomain.Destination, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	items, err := r.repo.ListByUser(ctx, r.db, userID, false)
	if err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range items {
		dest := items[i].Destination()
		if _, ok := wanted[dest.ID]; ok {
			out[dest.ID] = dest
		}
	}
	return out, nil
}

func (r *Registry) uniqueSlug(ctx context.Context, tx *gorm.DB, userID snowflake.ID, name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "instance"
	}
	candidate := base
	for i := 2; i <= maxSlugAttempts+1; i++ {
		exists, err := r.repo.SlugExists(ctx, tx, userID, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
	return "", fmt.Errorf("%w: too many instances named %q", instancedomain.ErrInvalidName, name)
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimRight(strings.TrimSpace(raw), "/")
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", instancedomain.ErrInvalidBaseURL
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", instancedomain.ErrInvalidBaseURL
	}
	return raw, nil
}

func toResponse(instance *instancedomain.Instance) instancedomain.Response {
	return instancedomain.Response{
		ID:        instance.ID.String(),
		Name:      instance.Name,
		Slug:      instance.Slug,
		BaseURL:   instance.BaseURL,
		IsActive:  instance.IsActive,
		CreatedAt: instance.CreatedAt,
	}
}

func parseID(value string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, instancedomain.ErrInvalidID
	}
	return snowflake.ID(parsed), nil
}
