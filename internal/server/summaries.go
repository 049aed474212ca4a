package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
)

const dateOnlyLayout = "2006-01-02"

// ListSummaries answers in the provider's summaries shape. start and end are
// inclusive calendar days in UTC; both default to today.
func (s *Server) ListSummaries(c *gin.Context) {
	if !s.requireCurrentUser(c) {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	today := s.clock.Now().UTC().Truncate(24 * time.Hour)
	start, err := parseDateParam(c.Query("start"), today)
	if err != nil {
		AbortWithError(c, newValidationError("start", "invalid_date", "start must be YYYY-MM-DD"))
		return
	}
	end, err := parseDateParam(c.Query("end"), today)
	if err != nil {
		AbortWithError(c, newValidationError("end", "invalid_date", "end must be YYYY-MM-DD"))
		return
	}

	resp, err := s.usagesvc.Summaries(c.Request.Context(), userID, usagedomain.SummariesRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseDateParam(value string, def time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return def, nil
	}
	return time.ParseInLocation(dateOnlyLayout, trimmed, time.UTC)
}
