package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/heartline/internal/config"
)

const DefaultCookieName = "heartline_session"

var (
	ErrNotConfigured = errors.New("session_not_configured")
	ErrInvalidToken  = errors.New("invalid_session")
)

// Manager reads and verifies browser session tokens. Sign-in lives elsewhere;
// this side only trusts HS256 tokens whose subject is a user id.
type Manager struct {
	cookieName string
	issuer     string
	secret     []byte
	now        func() time.Time
}

func NewManager(cfg config.Config) *Manager {
	name := strings.TrimSpace(cfg.Session.CookieName)
	if name == "" {
		name = DefaultCookieName
	}
	return &Manager{
		cookieName: name,
		issuer:     strings.TrimSpace(cfg.Session.Issuer),
		secret:     []byte(cfg.Session.JWTSecret),
		now:        time.Now,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.cookieName)
	if err != nil {
		return "", false
	}
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

// LooksLikeToken reports whether raw has the three-segment JWT shape.
func LooksLikeToken(raw string) bool {
	return strings.Count(raw, ".") == 2
}

// Verify validates the token signature, expiry and issuer and returns the user id.
func (m *Manager) Verify(raw string) (snowflake.ID, error) {
	if len(m.secret) == 0 {
		return 0, ErrNotConfigured
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	}, opts...)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return snowflake.ID(userID), nil
}

// Issue signs a session token for userID. Used by the sign-in collaborator and tests.
func (m *Manager) Issue(userID snowflake.ID, ttl time.Duration) (string, error) {
	if len(m.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
