package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	"github.com/smallbiznis/heartline/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// expiryMargin keeps tokens that are about to lapse from being used.
const expiryMargin = time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       credentialdomain.Repository
	Cache      cache.PipelineCache
	Refresher  credentialdomain.Refresher
	Clock      clock.Clock
	Forwarding *config.ForwardingConfigHolder
}

type Resolver struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       credentialdomain.Repository
	cache      cache.PipelineCache
	refresher  credentialdomain.Refresher
	clock      clock.Clock
	forwarding *config.ForwardingConfigHolder
}

func New(p Params) credentialdomain.Resolver {
	return &Resolver{
		db:         p.DB,
		log:        p.Log.Named("credential.resolver"),
		repo:       p.Repo,
		cache:      p.Cache,
		refresher:  p.Refresher,
		clock:      p.Clock,
		forwarding: p.Forwarding,
	}
}

// GetToken never returns an error: any failure means "skip the upstream".
func (r *Resolver) GetToken(ctx context.Context, userID snowflake.ID) (credentialdomain.Token, bool) {
	key := userID.String()
	if token, ok := r.cache.GetToken(key); ok {
		return token, true
	}

	log := r.log.With(zap.String("user_id", key))
	account, err := r.repo.FindByUser(ctx, r.db, userID, credentialdomain.ProviderWakaTime)
	if err != nil {
		log.Warn("failed to load upstream account", zap.Error(err))
		return credentialdomain.Token{}, false
	}
	if account == nil {
		return credentialdomain.Token{}, false
	}

	now := r.clock.Now()
	token := credentialdomain.Token{AccessToken: account.AccessToken}
	if account.ExpiresAt != nil {
		token.ExpiresAt = account.ExpiresAt.UTC()
	}
	if token.Valid(now, expiryMargin) {
		r.cache.SetToken(key, token)
		return token, true
	}

	if strings.TrimSpace(account.RefreshToken) == "" {
		log.Debug("upstream token expired without refresh token")
		return credentialdomain.Token{}, false
	}

	refreshed, ok := r.refresh(ctx, account, now)
	if !ok {
		return credentialdomain.Token{}, false
	}
	r.cache.SetToken(key, refreshed)
	return refreshed, true
}

func (r *Resolver) refresh(ctx context.Context, account *credentialdomain.Account, now time.Time) (credentialdomain.Token, bool) {
	log := r.log.With(zap.String("user_id", account.UserID.String()))
	delivery := metrics.Delivery()

	refreshCtx, cancel := context.WithTimeout(ctx, r.forwarding.Get().TokenTimeout)
	defer cancel()

	result, err := r.refresher.RefreshToken(refreshCtx, account.RefreshToken)
	if err != nil {
		delivery.IncTokenRefresh("failed")
		log.Warn("upstream token refresh failed", zap.Error(err))
		return credentialdomain.Token{}, false
	}

	var expiresAt *time.Time
	if !result.ExpiresAt.IsZero() {
		value := result.ExpiresAt.UTC()
		expiresAt = &value
	}
	if err := r.repo.UpdateTokens(ctx, r.db, account.ID, result.AccessToken, result.RefreshToken, expiresAt, now); err != nil {
		// The old refresh token may already be consumed; use the new token for this batch anyway.
		log.Error("failed to persist refreshed upstream token", zap.Error(err))
	}
	delivery.IncTokenRefresh("refreshed")
	log.Info("upstream token refreshed")

	token := credentialdomain.Token{AccessToken: result.AccessToken}
	if expiresAt != nil {
		token.ExpiresAt = *expiresAt
	}
	return token, true
}
