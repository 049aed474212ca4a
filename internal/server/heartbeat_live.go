package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/heartline/internal/heartbeat/liveevents"
)

const liveKeepAliveInterval = 15 * time.Second

// StreamHeartbeats pushes the caller's recent and incoming heartbeats as server-sent events.
func (s *Server) StreamHeartbeats(c *gin.Context) {
	if s.liveHeartbeats == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if !s.requireCurrentUser(c) {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, backlog, err := s.liveHeartbeats.Subscribe(userID.String())
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}
	for _, event := range backlog {
		if err := writeLiveHeartbeat(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	keepAlive := time.NewTicker(liveKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-subscription.Events():
			if !open {
				return
			}
			if err := writeLiveHeartbeat(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := io.WriteString(writer, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeLiveHeartbeat(w io.Writer, event liveevents.LiveEvent) error {
	data, err := sonic.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %s\nevent: heartbeat\ndata: %s\n\n", event.ID, data)
	return err
}
