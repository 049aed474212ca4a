package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/heartline/internal/apikey"
	apikeydomain "github.com/smallbiznis/heartline/internal/apikey/domain"
	"github.com/smallbiznis/heartline/internal/auth/session"
	"github.com/smallbiznis/heartline/internal/cache"
	"github.com/smallbiznis/heartline/internal/clock"
	"github.com/smallbiznis/heartline/internal/config"
	"github.com/smallbiznis/heartline/internal/credential"
	"github.com/smallbiznis/heartline/internal/forwarder"
	"github.com/smallbiznis/heartline/internal/health"
	healthdomain "github.com/smallbiznis/heartline/internal/health/domain"
	"github.com/smallbiznis/heartline/internal/heartbeat"
	heartbeatdomain "github.com/smallbiznis/heartline/internal/heartbeat/domain"
	"github.com/smallbiznis/heartline/internal/heartbeat/liveevents"
	"github.com/smallbiznis/heartline/internal/instance"
	instancedomain "github.com/smallbiznis/heartline/internal/instance/domain"
	"github.com/smallbiznis/heartline/internal/observability"
	obsmiddleware "github.com/smallbiznis/heartline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/heartline/internal/observability/metrics"
	obstracing "github.com/smallbiznis/heartline/internal/observability/tracing"
	"github.com/smallbiznis/heartline/internal/pending"
	pendingdomain "github.com/smallbiznis/heartline/internal/pending/domain"
	"github.com/smallbiznis/heartline/internal/providers/wakatime"
	"github.com/smallbiznis/heartline/internal/ratelimit"
	"github.com/smallbiznis/heartline/internal/reconciler"
	"github.com/smallbiznis/heartline/internal/usage"
	usagedomain "github.com/smallbiznis/heartline/internal/usage/domain"
	"github.com/smallbiznis/heartline/internal/user"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the ingestion pipeline behind the HTTP API. Config, logging,
// the database and the clock come from the enclosing app.
var Module = fx.Module("http.server",
	cache.Module,
	ratelimit.Module,
	session.Module,
	apikey.Module,
	user.Module,
	wakatime.Module,
	credential.Module,
	instance.Module,
	health.Module,
	usage.Module,
	forwarder.Module,
	pending.Module,
	heartbeat.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config, traceCfg obstracing.MiddlewareConfig, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware(traceCfg))
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// reconcileRunner is the slice of the reconciler the scheduler endpoint drives.
type reconcileRunner interface {
	RunOnce(ctx context.Context) (reconciler.Result, error)
}

type Server struct {
	engine           *gin.Engine
	cfg              config.Config
	clock            clock.Clock
	sessions         *session.Manager
	apikeysvc        apikeydomain.Service
	heartbeatsvc     heartbeatdomain.Service
	usagesvc         usagedomain.Service
	registry         instancedomain.Registry
	prober           healthdomain.Prober
	queue            pendingdomain.Queue
	reconciler       reconcileRunner
	heartbeatLimiter *ratelimit.HeartbeatLimiter
	liveHeartbeats   *liveevents.Hub
	obsMetrics       *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin              *gin.Engine
	Cfg              config.Config
	Clock            clock.Clock
	Sessions         *session.Manager
	APIKeySvc        apikeydomain.Service
	HeartbeatSvc     heartbeatdomain.Service
	UsageSvc         usagedomain.Service
	Registry         instancedomain.Registry
	Prober           healthdomain.Prober
	Queue            pendingdomain.Queue
	Reconciler       *reconciler.Reconciler      `optional:"true"`
	HeartbeatLimiter *ratelimit.HeartbeatLimiter `optional:"true"`
	LiveHeartbeats   *liveevents.Hub             `optional:"true"`
	ObsMetrics       *obsmetrics.Metrics         `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:           p.Gin,
		cfg:              p.Cfg,
		clock:            p.Clock,
		sessions:         p.Sessions,
		apikeysvc:        p.APIKeySvc,
		heartbeatsvc:     p.HeartbeatSvc,
		usagesvc:         p.UsageSvc,
		registry:         p.Registry,
		prober:           p.Prober,
		queue:            p.Queue,
		heartbeatLimiter: p.HeartbeatLimiter,
		liveHeartbeats:   p.LiveHeartbeats,
		obsMetrics:       p.ObsMetrics,
	}
	if p.Reconciler != nil {
		s.reconciler = p.Reconciler
	}
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) RegisterRoutes() {
	s.registerIngestRoutes()
	s.registerAPIRoutes()
	s.registerBackendRoutes()
}

// registerIngestRoutes mounts the provider-compatible heartbeat paths, both
// under /api/v1 and the short aliases plugins use with a custom api_url.
func (s *Server) registerIngestRoutes() {
	ingest := []gin.HandlerFunc{s.AuthRequired(), s.HeartbeatRateLimit()}

	v1 := s.engine.Group("/api/v1")
	v1.POST("/users/:user/heartbeats", append(ingest, s.IngestHeartbeats)...)
	v1.POST("/users/:user/heartbeats.bulk", append(ingest, s.IngestHeartbeatsBulk)...)

	s.engine.POST("/heartbeats", append(ingest, s.IngestHeartbeats)...)
	s.engine.POST("/heartbeats.bulk", append(ingest, s.IngestHeartbeatsBulk)...)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", s.AuthRequired())

	api.GET("/users/:user/summaries", s.ListSummaries)
	api.GET("/users/:user/heartbeats/live", s.StreamHeartbeats)

	api.GET("/instances", s.ListInstances)
	api.POST("/instances", s.CreateInstance)
	api.DELETE("/instances/:id", s.DeleteInstance)
	api.GET("/instances/:id/status", s.GetInstanceStatus)

	api.GET("/editor-keys", s.ListEditorKeys)
	api.POST("/editor-keys", s.CreateEditorKey)
	api.DELETE("/editor-keys/:id", s.RevokeEditorKey)

	api.GET("/pending/stats", s.GetPendingStats)
}

func (s *Server) registerBackendRoutes() {
	backend := s.engine.Group("/backend", s.SchedulerRequired())
	backend.POST("/schedule-pending", s.SchedulePending)
}
