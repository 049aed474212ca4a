package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetPendingStats reports how much of the caller's activity is still owed to destinations.
func (s *Server) GetPendingStats(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	stats, err := s.queue.Stats(c.Request.Context(), &userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}
