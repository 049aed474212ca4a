package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/heartline/internal/clock"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/smallbiznis/heartline/internal/instance/repository"
	"github.com/smallbiznis/heartline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&instancedomain.Instance{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clock.New(),
	}).(*Registry)
}

func TestCreateAssignsUniqueSlugPerUser(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	req := instancedomain.CreateRequest{Name: "My Wakapi", BaseURL: "https://wakapi.example.com/api/compat/wakatime/v1/", APIKey: "k"}

	first, err := reg.Create(ctx, 1, req)
	require.NoError(t, err)
	second, err := reg.Create(ctx, 1, req)
	require.NoError(t, err)
	other, err := reg.Create(ctx, 2, req)
	require.NoError(t, err)

	assert.Equal(t, "my-wakapi", first.Slug)
	assert.Equal(t, "my-wakapi-2", second.Slug)
	assert.Equal(t, "my-wakapi", other.Slug)
	assert.Equal(t, "https://wakapi.example.com/api/compat/wakatime/v1", first.BaseURL)
}

func TestCreateValidatesInput(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, 1, instancedomain.CreateRequest{Name: "", BaseURL: "https://a.example", APIKey: "k"})
	assert.ErrorIs(t, err, instancedomain.ErrInvalidName)
	_, err = reg.Create(ctx, 1, instancedomain.CreateRequest{Name: "a", BaseURL: "ftp://a.example", APIKey: "k"})
	assert.ErrorIs(t, err, instancedomain.ErrInvalidBaseURL)
	_, err = reg.Create(ctx, 1, instancedomain.CreateRequest{Name: "a", BaseURL: "https://a.example", APIKey: " "})
	assert.ErrorIs(t, err, instancedomain.ErrInvalidAPIKey)
}

func TestDestinationsAndLookup(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, 1, instancedomain.CreateRequest{Name: "a", BaseURL: "https://a.example", APIKey: "secret"})
	require.NoError(t, err)

	dests, err := reg.Destinations(ctx, 1)
	require.NoError(t, err)
	require.Len(t, dests, 1)
	assert.Equal(t, created.ID, dests[0].ID)
	assert.Equal(t, instancedomain.KindMirror, dests[0].Kind)
	assert.Equal(t, "secret", dests[0].Token)

	found, err := reg.Lookup(ctx, 1, []string{created.ID, "999"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Contains(t, found, created.ID)

	require.NoError(t, reg.Delete(ctx, 1, created.ID))
	found, err = reg.Lookup(ctx, 1, []string{created.ID})
	require.NoError(t, err)
	assert.Empty(t, found)

	assert.ErrorIs(t, reg.Delete(ctx, 1, created.ID), instancedomain.ErrNotFound)
}

func TestGetIsScopedToOwner(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, 1, instancedomain.CreateRequest{Name: "a", BaseURL: "https://a.example", APIKey: "k"})
	require.NoError(t, err)

	_, err = reg.Get(ctx, 2, created.ID)
	assert.ErrorIs(t, err, instancedomain.ErrNotFound)
	_, err = reg.Get(ctx, 1, "x")
	assert.ErrorIs(t, err, instancedomain.ErrInvalidID)
}
