package wakatime

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/smallbiznis/heartline/internal/config"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	obstracing "github.com/smallbiznis/heartline/internal/observability/tracing"
)

const (
	bulkHeartbeatsPath = "/users/current/heartbeats.bulk"
	statusBarPath      = "/users/current/statusbar/today"
	maxErrorBody       = 512
)

var ErrMissingCredential = errors.New("missing_credential")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client speaks the WakaTime-compatible API for the upstream and every mirror.
type Client struct {
	http         *http.Client
	userAgent    string
	tokenURL     string
	clientID     string
	clientSecret string
	redirectURI  string
}

func New(cfg config.Config) *Client {
	return NewWithHTTPClient(cfg, &http.Client{})
}

// NewWithHTTPClient wraps a caller-supplied client with tracing.
func NewWithHTTPClient(cfg config.Config, httpClient *http.Client) *Client {
	return &Client{
		http:         obstracing.WrapHTTPClient(httpClient),
		userAgent:    fmt.Sprintf("%s/%s", cfg.AppName, cfg.AppVersion),
		tokenURL:     strings.TrimSpace(cfg.Upstream.TokenURL),
		clientID:     cfg.Upstream.ClientID,
		clientSecret: cfg.Upstream.ClientSecret,
		redirectURI:  cfg.Upstream.RedirectURI,
	}
}

// PostHeartbeats delivers a batch to the destination's bulk endpoint.
func (c *Client) PostHeartbeats(ctx context.Context, dest instancedomain.Destination, heartbeats []heartbeatdomain.Heartbeat) error {
	if strings.TrimSpace(dest.Token) == "" {
		return ErrMissingCredential
	}
	body, err := sonic.Marshal(heartbeats)
	if err != nil {
		return fmt.Errorf("encode heartbeats: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(dest.BaseURL, bulkHeartbeatsPath), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req, dest.Token)

	return c.do(req)
}

// Status performs the cheap authenticated read used as a health probe.
func (c *Client) Status(ctx context.Context, dest instancedomain.Destination) error {
	if strings.TrimSpace(dest.Token) == "" {
		return ErrMissingCredential
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint(dest.BaseURL, statusBarPath), nil)
	if err != nil {
		return err
	}
	c.authorize(req, dest.Token)

	return c.do(req)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    string `json:"expires_at"`
}

// RefreshToken exchanges a refresh token at the upstream token endpoint.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (*credentialdomain.RefreshResult, error) {
	if c.tokenURL == "" || c.clientID == "" {
		return nil, errors.New("upstream oauth client not configured")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", c.clientID)
	if c.clientSecret != "" {
		form.Set("client_secret", c.clientSecret)
	}
	if c.redirectURI != "" {
		form.Set("redirect_uri", c.redirectURI)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(payload))}
	}

	parsed, err := parseTokenResponse(resp.Header.Get("Content-Type"), payload)
	if err != nil {
		return nil, err
	}
	if parsed.AccessToken == "" {
		return nil, errors.New("token response missing access_token")
	}

	result := &credentialdomain.RefreshResult{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
	}
	switch {
	case parsed.ExpiresAt != "":
		if expiresAt, err := time.Parse(time.RFC3339, parsed.ExpiresAt); err == nil {
			result.ExpiresAt = expiresAt.UTC()
		}
	case parsed.ExpiresIn > 0:
		result.ExpiresAt = time.Now().UTC().Add(time.Duration(parsed.ExpiresIn) * time.Second)
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func (c *Client) authorize(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body))}
}

// WakaTime answers form-encoded unless JSON is negotiated; accept both.
func parseTokenResponse(contentType string, payload []byte) (tokenResponse, error) {
	var parsed tokenResponse
	if strings.Contains(strings.ToLower(contentType), "json") {
		if err := sonic.Unmarshal(payload, &parsed); err != nil {
			return parsed, fmt.Errorf("decode token response: %w", err)
		}
		return parsed, nil
	}

	values, err := url.ParseQuery(string(payload))
	if err != nil {
		return parsed, fmt.Errorf("decode token response: %w", err)
	}
	parsed.AccessToken = values.Get("access_token")
	parsed.RefreshToken = values.Get("refresh_token")
	parsed.ExpiresAt = values.Get("expires_at")
	if expiresIn, err := strconv.ParseInt(values.Get("expires_in"), 10, 64); err == nil {
		parsed.ExpiresIn = expiresIn
	}
	return parsed, nil
}

func endpoint(baseURL, path string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
}

func truncate(value string) string {
	value = strings.TrimSpace(value)
	if len(value) > maxErrorBody {
		return value[:maxErrorBody]
	}
	return value
}
