package wakatime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/heartline/internal/config"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(tokenURL string) config.Config {
	return config.Config{
		AppName:    "heartline",
		AppVersion: "test",
		Upstream: config.UpstreamConfig{
			TokenURL:     tokenURL,
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURI:  "https://heartline.example/callback",
		},
	}
}

func TestPostHeartbeatsSendsBearerAndBody(t *testing.T) {
	var gotAuth, gotPath string
	var got []heartbeatdomain.Heartbeat
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(testConfig(""))
	dest := instancedomain.Destination{ID: "1", BaseURL: srv.URL + "/api/v1/", Token: "tok"}
	err := c.PostHeartbeats(context.Background(), dest, []heartbeatdomain.Heartbeat{{Time: 1700000000, Entity: "/a.ts", Type: "file", IsWrite: true}})

	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/api/v1/users/current/heartbeats.bulk", gotPath)
	require.Len(t, got, 1)
	assert.Equal(t, "/a.ts", got[0].Entity)
	assert.True(t, got[0].IsWrite)
}

func TestPostHeartbeatsNon2xxIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(testConfig(""))
	err := c.PostHeartbeats(context.Background(), instancedomain.Destination{BaseURL: srv.URL, Token: "tok"}, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}

func TestStatusRequiresToken(t *testing.T) {
	c := New(testConfig(""))
	err := c.Status(context.Background(), instancedomain.Destination{BaseURL: "http://127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestRefreshTokenJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "old-refresh", r.PostForm.Get("refresh_token"))
		assert.Equal(t, "client", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"new","refresh_token":"next","expires_at":"2030-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	res, err := c.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new", res.AccessToken)
	assert.Equal(t, "next", res.RefreshToken)
	assert.Equal(t, 2030, res.ExpiresAt.Year())
}

func TestRefreshTokenFormEncoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-www-form-urlencoded")
		_, _ = w.Write([]byte(`access_token=new&expires_in=3600`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	res, err := c.RefreshToken(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "new", res.AccessToken)
	assert.Equal(t, "old-refresh", res.RefreshToken)
	assert.False(t, res.ExpiresAt.IsZero())
}
