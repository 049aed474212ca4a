package tracing

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/heartline/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const httpTracerName = "heartline/http"

// MiddlewareConfig selects which routes get server spans.
type MiddlewareConfig struct {
	// UntracedRoutes are gin route templates served without a span, e.g. /health.
	UntracedRoutes []string
}

// GinMiddleware opens a server span per request and tags it with the caller
// and the ingest volume once the handlers have run.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	tracer := otel.Tracer(httpTracerName)
	untraced := make(map[string]struct{}, len(cfg.UntracedRoutes))
	for _, route := range cfg.UntracedRoutes {
		if route = strings.TrimSpace(route); route != "" {
			untraced[route] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		route := c.FullPath()
		if _, skip := untraced[route]; skip {
			c.Next()
			return
		}
		if route == "" {
			route = "unmatched"
		}

		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", c.Request.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()
		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(attribute.Int("http.status_code", status))
		span.SetAttributes(requestAttributes(c)...)

		switch {
		case status == http.StatusTooManyRequests:
			span.AddEvent("rate_limited", trace.WithAttributes(
				attribute.String("reason", c.Writer.Header().Get("X-Rate-Limited-Reason")),
			))
		case status >= http.StatusInternalServerError:
			if lastErr := c.Errors.Last(); lastErr != nil {
				span.RecordError(SafeError(lastErr.Err))
			}
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

// requestAttributes reads what auth and the ingest handler recorded on the
// request. The user id comes from the request context set at authentication.
func requestAttributes(c *gin.Context) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if authType := c.GetString(obscontext.GinKeyAuthType); authType != "" {
		attrs = append(attrs, attribute.String("heartline.auth_type", authType))
	}
	if userID := obscontext.UserIDFromContext(c.Request.Context()); userID != "" {
		attrs = append(attrs, attribute.String("heartline.user_id", userID))
	}
	if count := c.GetInt(obscontext.GinKeyHeartbeatCount); count > 0 {
		attrs = append(attrs, attribute.Int("heartline.heartbeat_count", count))
	}
	return SafeAttributes(attrs...)
}
