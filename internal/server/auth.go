package server

import (
	"encoding/base64"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/heartline/internal/auth/session"
	obscontext "github.com/smallbiznis/heartline/internal/observability/context"
)

const (
	contextUserIDKey   = "user_id"
	contextAuthTypeKey = obscontext.GinKeyAuthType

	authTypeEditorKey = "editor_key"
	authTypeSession   = "session"
)

// AuthRequired accepts, in order: an editor key as Basic base64(key), an editor
// key as a Bearer token, a session JWT as a Bearer token, or the session cookie.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		scheme, credential := splitAuthorization(c.GetHeader("Authorization"))

		switch strings.ToLower(scheme) {
		case "basic":
			key, ok := decodeBasicKey(credential)
			if !ok {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			s.authenticateKey(c, key)
			return
		case "bearer":
			if session.LooksLikeToken(credential) {
				s.authenticateSession(c, credential)
				return
			}
			s.authenticateKey(c, credential)
			return
		case "":
		default:
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if s.sessions != nil {
			if token, ok := s.sessions.ReadToken(c); ok {
				s.authenticateSession(c, token)
				return
			}
		}
		AbortWithError(c, ErrUnauthorized)
	}
}

func (s *Server) authenticateKey(c *gin.Context, raw string) {
	if s.apikeysvc == nil || raw == "" {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	owner, err := s.apikeysvc.Validate(c.Request.Context(), raw)
	if err != nil {
		// Unknown or malformed keys map to 401; a failing lookup is a 500.
		AbortWithError(c, err)
		return
	}
	s.setPrincipal(c, owner.UserID, authTypeEditorKey, owner.KeyID.String())
	c.Next()
}

func (s *Server) authenticateSession(c *gin.Context, raw string) {
	if s.sessions == nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	userID, err := s.sessions.Verify(raw)
	if err != nil {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	s.setPrincipal(c, userID, authTypeSession, userID.String())
	c.Next()
}

func (s *Server) setPrincipal(c *gin.Context, userID snowflake.ID, authType, actorID string) {
	ctx := c.Request.Context()
	ctx = obscontext.WithUserID(ctx, userID.String())
	ctx = obscontext.WithActor(ctx, authType, actorID)
	c.Request = c.Request.WithContext(ctx)

	c.Set(contextUserIDKey, userID)
	c.Set(contextAuthTypeKey, authType)
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	value, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(snowflake.ID)
	if !ok || userID == 0 {
		return 0, false
	}
	return userID, true
}

func splitAuthorization(header string) (string, string) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ""
	}
	scheme, credential, found := strings.Cut(header, " ")
	if !found {
		return header, ""
	}
	return scheme, strings.TrimSpace(credential)
}

// decodeBasicKey reads an editor key from Basic credentials. Plugins send
// base64(key); some clients send base64(key:) or base64(user:key).
func decodeBasicKey(credential string) (string, bool) {
	if credential == "" {
		return "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(credential)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(credential)
		if err != nil {
			return "", false
		}
	}
	value := strings.TrimSpace(string(decoded))
	if user, pass, found := strings.Cut(value, ":"); found {
		value = strings.TrimSpace(pass)
		if value == "" {
			value = strings.TrimSpace(user)
		}
	}
	return value, value != ""
}
