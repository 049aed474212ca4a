package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig

	Upstream  UpstreamConfig
	Session   SessionConfig
	Scheduler SchedulerConfig
	Metrics   MetricsPushConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type CacheConfig struct {
	Driver   string
	Capacity int
}

type RateLimitConfig struct {
	Enabled           bool
	HeartbeatRate     float64
	HeartbeatBurst    int
	ReconcileLockTTL  time.Duration
	ReconcileLockName string
}

// UpstreamConfig points at the fixed WakaTime-compatible provider.
type UpstreamConfig struct {
	BaseURL      string
	TokenURL     string
	RedirectURI  string
	ClientID     string
	ClientSecret string
}

type SessionConfig struct {
	JWTSecret  string
	CookieName string
	Issuer     string
}

type SchedulerConfig struct {
	Secret      string
	CallerAgent string
	Embedded    bool
}

// TelemetryConfig feeds logging and tracing. Probes and the scheduler hit
// /health and /metrics often enough that they stay out of traces by default.
type TelemetryConfig struct {
	LogLevel         string
	LogFormat        string
	LogSampleInitial int
	LogSampleAfter   int
	TracingEnabled   bool
	OTLPProtocol     string
	TraceSampleRatio float64
	UntracedRoutes   []string
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "heartline"),
		AppVersion:   getenv("SERVICE_VERSION", getenv("APP_VERSION", "0.1.0")),
		Environment:  getenv("DEPLOYMENT_ENV", getenv("ENVIRONMENT", "development")),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			LogLevel:         strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:        strings.ToLower(getenv("LOG_FORMAT", "json")),
			LogSampleInitial: getenvInt("LOG_SAMPLE_INITIAL", 100),
			LogSampleAfter:   getenvInt("LOG_SAMPLE_THEREAFTER", 100),
			TracingEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPProtocol:     strings.ToLower(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			TraceSampleRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			UntracedRoutes:   getenvList("OTEL_UNTRACED_ROUTES", []string{"/health", "/metrics"}),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "heartline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "heartline.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			Driver:   strings.ToLower(strings.TrimSpace(getenv("CACHE_DRIVER", "memory"))),
			Capacity: getenvInt("CACHE_CAPACITY", 10000),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getenvBool("RATE_LIMIT_ENABLED", false),
			HeartbeatRate:     getenvFloat("RATE_LIMIT_HEARTBEAT_RATE", 5),
			HeartbeatBurst:    getenvInt("RATE_LIMIT_HEARTBEAT_BURST", 50),
			ReconcileLockTTL:  getenvDuration("RECONCILE_LOCK_TTL", 2*time.Minute),
			ReconcileLockName: getenv("RECONCILE_LOCK_NAME", "heartline:reconcile:lock"),
		},
		Upstream: UpstreamConfig{
			BaseURL:      strings.TrimRight(getenv("UPSTREAM_BASE_URL", "https://api.wakatime.com/api/v1"), "/"),
			TokenURL:     getenv("UPSTREAM_TOKEN_URL", "https://wakatime.com/oauth/token"),
			RedirectURI:  strings.TrimSpace(getenv("UPSTREAM_REDIRECT_URI", "")),
			ClientID:     strings.TrimSpace(getenv("OAUTH2_CLIENT_ID", "")),
			ClientSecret: strings.TrimSpace(getenv("OAUTH2_CLIENT_SECRET", "")),
		},
		Session: SessionConfig{
			JWTSecret:  strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
			CookieName: getenv("AUTH_COOKIE_NAME", "heartline_session"),
			Issuer:     getenv("AUTH_JWT_ISSUER", "heartline"),
		},
		Scheduler: SchedulerConfig{
			Secret:      strings.TrimSpace(getenv("SCHEDULER_SECRET", "")),
			CallerAgent: strings.TrimSpace(getenv("SCHEDULER_CALLER_AGENT", "heartline-cron/1.0")),
			Embedded:    getenvBool("SCHEDULER_EMBEDDED", true),
		},
		Metrics: MetricsPushConfig{
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid %s value %q, using default %d", key, value, def)
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("invalid %s value %q, using default %v", key, value, def)
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("invalid %s value %q, using default %s", key, value, def)
		return def
	}
	return parsed
}

func getenvList(key string, def []string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
