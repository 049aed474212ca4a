package observability

import (
	"strings"

	"github.com/smallbiznis/heartline/internal/config"
)

const defaultServiceName = "heartline"

// Config is the telemetry view of the service configuration.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel         string
	LogFormat        string
	LogSampleInitial int
	LogSampleAfter   int

	TracingEnabled   bool
	OTLPEndpoint     string
	OTLPProtocol     string
	TraceSampleRatio float64
	UntracedRoutes   []string
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = defaultServiceName
	}
	t := cfg.Telemetry

	ratio := t.TraceSampleRatio
	if ratio < 0 || ratio > 1 {
		ratio = 0.1
	}

	return Config{
		ServiceName:      serviceName,
		Environment:      strings.TrimSpace(cfg.Environment),
		Version:          strings.TrimSpace(cfg.AppVersion),
		LogLevel:         orDefault(t.LogLevel, "info"),
		LogFormat:        orDefault(t.LogFormat, "json"),
		LogSampleInitial: t.LogSampleInitial,
		LogSampleAfter:   t.LogSampleAfter,
		TracingEnabled:   t.TracingEnabled,
		OTLPEndpoint:     strings.TrimSpace(cfg.OTLPEndpoint),
		OTLPProtocol:     orDefault(t.OTLPProtocol, "grpc"),
		TraceSampleRatio: ratio,
		UntracedRoutes:   t.UntracedRoutes,
	}
}

// Debug is true for a debug log level or any non-production environment name
// developers use locally.
func (c Config) Debug() bool {
	if strings.EqualFold(strings.TrimSpace(c.LogLevel), "debug") {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func orDefault(value, def string) string {
	if value = strings.ToLower(strings.TrimSpace(value)); value != "" {
		return value
	}
	return def
}
