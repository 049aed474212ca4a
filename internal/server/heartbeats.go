package server

import (
	"bytes"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	obscontext "github.com/smallbiznis/heartline/internal/observability/context"
	"github.com/smallbiznis/heartline/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	endpointHeartbeats     = "heartbeats"
	endpointHeartbeatsBulk = "heartbeats.bulk"

	maxHeartbeatBodyBytes = 4 << 20
)

type ackEnvelope struct {
	Data heartbeatdomain.Ack `json:"data"`
}

// IngestHeartbeats accepts a single heartbeat object or an array.
func (s *Server) IngestHeartbeats(c *gin.Context) {
	heartbeats, isArray, err := readHeartbeats(c)
	if err != nil {
		s.rejectHeartbeats(c, endpointHeartbeats, "decode", err)
		return
	}

	result, ok := s.ingest(c, endpointHeartbeats, heartbeats, isArray)
	if !ok {
		return
	}

	if isArray {
		c.JSON(http.StatusAccepted, gin.H{"data": result.Acks})
		return
	}
	c.JSON(http.StatusAccepted, ackEnvelope{Data: result.Acks[0]})
}

// IngestHeartbeatsBulk accepts arrays only and answers in the bulk response shape.
func (s *Server) IngestHeartbeatsBulk(c *gin.Context) {
	heartbeats, isArray, err := readHeartbeats(c)
	if err != nil {
		s.rejectHeartbeats(c, endpointHeartbeatsBulk, "decode", err)
		return
	}
	if !isArray {
		s.rejectHeartbeats(c, endpointHeartbeatsBulk, "shape", heartbeatdomain.ErrArrayRequired)
		return
	}

	result, ok := s.ingest(c, endpointHeartbeatsBulk, heartbeats, true)
	if !ok {
		return
	}

	responses := make([][]any, 0, len(result.Acks))
	for _, ack := range result.Acks {
		responses = append(responses, []any{ackEnvelope{Data: ack}, http.StatusCreated})
	}
	c.JSON(http.StatusAccepted, gin.H{"responses": responses})
}

func (s *Server) ingest(c *gin.Context, endpoint string, heartbeats []heartbeatdomain.Heartbeat, indexed bool) (*heartbeatdomain.IngestResult, bool) {
	if !s.requireCurrentUser(c) {
		return nil, false
	}
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return nil, false
	}

	if err := heartbeatdomain.Validate(heartbeats, indexed); err != nil {
		s.rejectHeartbeats(c, endpoint, "validation", err)
		return nil, false
	}
	c.Set(obscontext.GinKeyHeartbeatCount, len(heartbeats))

	ctx := c.Request.Context()
	result, err := s.heartbeatsvc.Ingest(ctx, heartbeatdomain.Batch{
		UserID:     userID,
		Heartbeats: heartbeats,
		UserAgent:  strings.TrimSpace(c.Request.UserAgent()),
	})
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}

	s.obsMetrics.RecordHeartbeatsIngested(ctx, endpoint, len(heartbeats))
	if len(result.Pending) > 0 {
		logger.FromContext(ctx).Debug("heartbeats queued for retry",
			zap.Strings("destinations", result.Pending),
			zap.Int("queued", result.Queued),
		)
	}
	return result, true
}

// requireCurrentUser allows the :user segment to be "current" or the caller's own id.
func (s *Server) requireCurrentUser(c *gin.Context) bool {
	user := strings.TrimSpace(c.Param("user"))
	if user == "" || user == "current" {
		return true
	}
	if userID, ok := currentUserID(c); ok && user == userID.String() {
		return true
	}
	AbortWithError(c, ErrForbidden)
	return false
}

func (s *Server) rejectHeartbeats(c *gin.Context, endpoint, reason string, err error) {
	s.obsMetrics.RecordHeartbeatsRejected(c.Request.Context(), endpoint, reason)
	AbortWithError(c, err)
}

// readHeartbeats decodes either shape and reports whether the body was an array.
func readHeartbeats(c *gin.Context) ([]heartbeatdomain.Heartbeat, bool, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHeartbeatBodyBytes))
	if err != nil {
		return nil, false, heartbeatdomain.ErrInvalidBody
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, false, heartbeatdomain.ErrEmptyBatch
	}

	switch body[0] {
	case '[':
		var heartbeats []heartbeatdomain.Heartbeat
		if err := sonic.Unmarshal(body, &heartbeats); err != nil {
			return nil, true, heartbeatdomain.ErrInvalidBody
		}
		return heartbeats, true, nil
	case '{':
		var heartbeat heartbeatdomain.Heartbeat
		if err := sonic.Unmarshal(body, &heartbeat); err != nil {
			return nil, false, heartbeatdomain.ErrInvalidBody
		}
		return []heartbeatdomain.Heartbeat{heartbeat}, false, nil
	default:
		return nil, false, heartbeatdomain.ErrInvalidBody
	}
}
