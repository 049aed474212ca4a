package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	apikeydomain "github.com/smallbiznis/heartline/internal/apikey/domain"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  apikeydomain.Repository
	Cache cache.PipelineCache
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	repo  apikeydomain.Repository
	genID *snowflake.Node
	cache cache.PipelineCache
	clock clock.Clock
}

func New(p Params) apikeydomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("apikey.service"),
		repo:  p.Repo,
		genID: p.GenID,
		cache: p.Cache,
		clock: p.Clock,
	}
}

func (s *Service) List(ctx context.Context, userID snowflake.ID) ([]apikeydomain.Response, error) {
	items, err := s.repo.List(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}

	resp := make([]apikeydomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

// Create issues a new key. The raw key is only ever returned here.
func (s *Service) Create(ctx context.Context, userID snowflake.ID, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apikeydomain.ErrInvalidName
	}

	plain := apikeydomain.KeyPrefix + uuid.NewString()
	key := &apikeydomain.EditorKey{
		ID:        s.genID.Generate(),
		UserID:    userID,
		Name:      name,
		KeyHash:   apikeydomain.HashKey(plain),
		IsActive:  true,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, key); err != nil {
		return nil, err
	}

	return &apikeydomain.SecretResponse{ID: key.ID.String(), Key: plain}, nil
}

func (s *Service) Revoke(ctx context.Context, userID snowflake.ID, id string) error {
	keyID, err := parseID(id)
	if err != nil {
		return err
	}

	key, err := s.repo.FindByID(ctx, s.db, userID, keyID)
	if err != nil {
		return err
	}
	if key == nil {
		return apikeydomain.ErrNotFound
	}

	if err := s.repo.Deactivate(ctx, s.db, userID, keyID); err != nil {
		return err
	}
	s.cache.DeleteKey(key.KeyHash)
	return nil
}

// Validate resolves a raw editor key to its owner, cache-first.
func (s *Service) Validate(ctx context.Context, raw string) (apikeydomain.KeyOwner, error) {
	raw = strings.TrimSpace(raw)
	if !apikeydomain.ValidFormat(raw) {
		return apikeydomain.KeyOwner{}, apikeydomain.ErrInvalidFormat
	}

	hash := apikeydomain.HashKey(raw)
	if owner, ok := s.cache.GetKey(hash); ok {
		return owner, nil
	}

	key, err := s.repo.FindByHash(ctx, s.db, hash)
	if err != nil {
		return apikeydomain.KeyOwner{}, err
	}
	if key == nil || !key.IsActive {
		return apikeydomain.KeyOwner{}, apikeydomain.ErrInvalidKey
	}

	owner := apikeydomain.KeyOwner{KeyID: key.ID, UserID: key.UserID}
	s.cache.SetKey(hash, owner)

	if err := s.repo.TouchLastUsed(ctx, s.db, key.ID, s.clock.Now()); err != nil {
		s.log.Warn("failed to record key usage", zap.String("key_id", key.ID.String()), zap.Error(err))
	}
	return owner, nil
}

func toResponse(key *apikeydomain.EditorKey) apikeydomain.Response {
	return apikeydomain.Response{
		ID:         key.ID.String(),
		Name:       key.Name,
		IsActive:   key.IsActive,
		CreatedAt:  key.CreatedAt,
		LastUsedAt: key.LastUsedAt,
	}
}

func parseID(value string) (snowflake.ID, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, apikeydomain.ErrInvalidKeyID
	}
	return snowflake.ID(parsed), nil
}
