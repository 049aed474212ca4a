package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	"github.com/smallbiznis/heartline/internal/credential/repository"
	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) RefreshToken(ctx context.Context, refreshToken string) (*credentialdomain.RefreshResult, error) {
	args := m.Called(ctx, refreshToken)
	if res := args.Get(0); res != nil {
		return res.(*credentialdomain.RefreshResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type fixture struct {
	db        *gorm.DB
	resolver  *Resolver
	refresher *mockRefresher
	clock     *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&credentialdomain.Account{}))

	fake := clock.NewFakeClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	refresher := &mockRefresher{}
	resolver := New(Params{
		DB:         conn,
		Log:        zap.NewNop(),
		Repo:       repository.Provide(),
		Cache:      cache.NewMemoryPipelineCache(100),
		Refresher:  refresher,
		Clock:      fake,
		Forwarding: config.NewStaticForwardingConfigHolder(config.DefaultForwardingConfig()),
	}).(*Resolver)

	return &fixture{db: conn, resolver: resolver, refresher: refresher, clock: fake}
}

func (f *fixture) seed(t *testing.T, userID snowflake.ID, access, refresh string, expiresAt time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&credentialdomain.Account{
		ID:           userID + 1000,
		UserID:       userID,
		Provider:     credentialdomain.ProviderWakaTime,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    &expiresAt,
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}).Error)
}

func TestGetTokenReturnsValidStoredToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "live", "r", f.clock.Now().Add(time.Hour))

	token, ok := f.resolver.GetToken(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, "live", token.AccessToken)
	f.refresher.AssertNotCalled(t, "RefreshToken", mock.Anything, mock.Anything)
}

func TestGetTokenRefreshesExpiredToken(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "stale", "old-refresh", f.clock.Now().Add(-time.Minute))
	f.refresher.On("RefreshToken", mock.Anything, "old-refresh").Return(&credentialdomain.RefreshResult{
		AccessToken:  "fresh",
		RefreshToken: "new-refresh",
		ExpiresAt:    f.clock.Now().Add(time.Hour),
	}, nil).Once()

	token, ok := f.resolver.GetToken(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, "fresh", token.AccessToken)

	var stored credentialdomain.Account
	require.NoError(t, f.db.First(&stored, "user_id = ?", 1).Error)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "new-refresh", stored.RefreshToken)

	// Served from cache on the second call.
	token, ok = f.resolver.GetToken(context.Background(), 1)
	require.True(t, ok)
	assert.Equal(t, "fresh", token.AccessToken)
	f.refresher.AssertExpectations(t)
}

func TestGetTokenAbsentWhenRefreshFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 1, "stale", "old-refresh", f.clock.Now().Add(-time.Minute))
	f.refresher.On("RefreshToken", mock.Anything, "old-refresh").Return(nil, errors.New("invalid_grant"))

	_, ok := f.resolver.GetToken(context.Background(), 1)
	assert.False(t, ok)
}

func TestGetTokenAbsentWithoutAccountOrRefreshToken(t *testing.T) {
	f := newFixture(t)

	_, ok := f.resolver.GetToken(context.Background(), 1)
	assert.False(t, ok)

	f.seed(t, 2, "stale", "", f.clock.Now().Add(-time.Minute))
	_, ok = f.resolver.GetToken(context.Background(), 2)
	assert.False(t, ok)
}
