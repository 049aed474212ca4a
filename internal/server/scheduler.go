package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/heartline/internal/observability/context"
	"github.com/smallbiznis/heartline/internal/observability/logger"
	"go.uber.org/zap"
)

type schedulePendingResponse struct {
	RunID     string `json:"run_id"`
	Skipped   bool   `json:"skipped"`
	Processed int    `json:"processed"`
	Resolved  int    `json:"resolved"`
	Partial   int    `json:"partial"`
	Failed    int    `json:"failed"`
	Pruned    int    `json:"pruned"`
}

// SchedulerRequired admits only the scheduled-job invoker: the shared secret
// as a Bearer token and a User-Agent carrying the caller marker.
func (s *Server) SchedulerRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(s.cfg.Scheduler.Secret)
		if secret == "" {
			AbortWithError(c, ErrNotFound)
			return
		}

		scheme, token := splitAuthorization(c.GetHeader("Authorization"))
		if !strings.EqualFold(scheme, "bearer") || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		agent := strings.TrimSpace(s.cfg.Scheduler.CallerAgent)
		if agent != "" && !strings.HasPrefix(c.Request.UserAgent(), agent) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := obscontext.WithActor(c.Request.Context(), "scheduler", agent)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SchedulePending runs one reconciliation pass. Per-user failures are reported
// in the counts, never as an error status.
func (s *Server) SchedulePending(c *gin.Context) {
	if s.reconciler == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	ctx := c.Request.Context()
	result, err := s.reconciler.RunOnce(ctx)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if result.Errors != nil {
		logger.FromContext(ctx).Warn("reconcile run finished with errors",
			zap.String("run_id", result.RunID),
			zap.Error(result.Errors),
		)
	}

	c.JSON(http.StatusOK, schedulePendingResponse{
		RunID:     result.RunID,
		Skipped:   result.Skipped,
		Processed: result.Claimed,
		Resolved:  result.Resolved,
		Partial:   result.PartiallyResolved,
		Failed:    result.Failed,
		Pruned:    result.Pruned,
	})
}
