package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	healthdomain "github.com/smallbiznis/heartline/internal/health/domain"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
)

type instanceStatusResponse struct {
	ID     string              `json:"id"`
	Name   string              `json:"name"`
	Status healthdomain.Status `json:"status"`
}

func (s *Server) ListInstances(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	instances, err := s.registry.List(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": instances})
}

func (s *Server) CreateInstance(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req instancedomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.registry.Create(c.Request.Context(), userID, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

// DeleteInstance deregisters a mirror. Pending entries still naming it are
// pruned by the next reconcile run.
func (s *Server) DeleteInstance(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.registry.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetInstanceStatus reports the cached probe result, probing on a miss.
func (s *Server) GetInstanceStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	ctx := c.Request.Context()
	instance, err := s.registry.Get(ctx, userID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := s.prober.Status(ctx, instance.Destination())
	c.JSON(http.StatusOK, gin.H{"data": instanceStatusResponse{
		ID:     instance.ID.String(),
		Name:   instance.Name,
		Status: status,
	}})
}
