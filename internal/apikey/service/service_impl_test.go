package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	apikeydomain "github.com/smallbiznis/heartline/internal/apikey/domain"
	"github.com/smallbiznis/heartline/internal/apikey/repository"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&apikeydomain.EditorKey{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Cache: cache.NewMemoryPipelineCache(100),
		Clock: clock.New(),
	}).(*Service)
}

func TestCreateAndValidate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, 42, apikeydomain.CreateRequest{Name: "laptop"})
	require.NoError(t, err)
	assert.True(t, apikeydomain.ValidFormat(secret.Key))

	owner, err := svc.Validate(ctx, secret.Key)
	require.NoError(t, err)
	assert.EqualValues(t, 42, owner.UserID)

	keys, err := svc.List(ctx, 42)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "laptop", keys[0].Name)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestValidateRejectsMalformedAndUnknownKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "not-a-key")
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidFormat)

	_, err = svc.Validate(ctx, uuid.NewString())
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestRevokeInvalidatesCachedKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, 42, apikeydomain.CreateRequest{Name: "laptop"})
	require.NoError(t, err)
	_, err = svc.Validate(ctx, secret.Key)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, 42, secret.ID))

	_, err = svc.Validate(ctx, secret.Key)
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidKey)
}

func TestRevokeScopedToOwner(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	secret, err := svc.Create(ctx, 42, apikeydomain.CreateRequest{Name: "laptop"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Revoke(ctx, 7, secret.ID), apikeydomain.ErrNotFound)
	assert.ErrorIs(t, svc.Revoke(ctx, 42, "abc"), apikeydomain.ErrInvalidKeyID)
}

func TestCreateRequiresName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Create(context.Background(), 42, apikeydomain.CreateRequest{Name: "  "})
	assert.ErrorIs(t, err, apikeydomain.ErrInvalidName)
}
