package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ForwardingConfig tunes delivery, probing and reconciliation.
type ForwardingConfig struct {
	ForwardTimeout time.Duration    `mapstructure:"forwardTimeout"`
	ProbeTimeout   time.Duration    `mapstructure:"probeTimeout"`
	TokenTimeout   time.Duration    `mapstructure:"tokenTimeout"`
	MaxConcurrency int              `mapstructure:"maxConcurrency"`
	WriteWeight    int              `mapstructure:"writeWeight"`
	ReadWeight     int              `mapstructure:"readWeight"`
	Reconciler     ReconcilerConfig `mapstructure:"reconciler"`
}

type ReconcilerConfig struct {
	BatchSize      int           `mapstructure:"batchSize"`
	Interval       time.Duration `mapstructure:"interval"`
	RunTimeout     time.Duration `mapstructure:"runTimeout"`
	Lease          time.Duration `mapstructure:"lease"`
	BackoffInitial time.Duration `mapstructure:"backoffInitial"`
	BackoffMax     time.Duration `mapstructure:"backoffMax"`
}

func DefaultForwardingConfig() ForwardingConfig {
	return ForwardingConfig{
		ForwardTimeout: 10 * time.Second,
		ProbeTimeout:   10 * time.Second,
		TokenTimeout:   5 * time.Second,
		MaxConcurrency: 8,
		WriteWeight:    15,
		ReadWeight:     10,
		Reconciler: ReconcilerConfig{
			BatchSize:      100,
			Interval:       time.Minute,
			RunTimeout:     2 * time.Minute,
			Lease:          2 * time.Minute,
			BackoffInitial: time.Minute,
			BackoffMax:     time.Hour,
		},
	}
}

type ForwardingConfigHolder struct {
	current atomic.Value // holds ForwardingConfig
}

// NewStaticForwardingConfigHolder returns a holder that never reloads.
func NewStaticForwardingConfigHolder(cfg ForwardingConfig) *ForwardingConfigHolder {
	holder := &ForwardingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewForwardingConfigHolder(log *zap.Logger) (*ForwardingConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("forwarding.config")

	v := viper.New()

	v.SetConfigName("forwarding")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/heartline/config")
	v.AddConfigPath("/etc/heartline")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HEARTLINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultForwardingConfig()
	v.SetDefault("forwarding.forwardTimeout", defaults.ForwardTimeout)
	v.SetDefault("forwarding.probeTimeout", defaults.ProbeTimeout)
	v.SetDefault("forwarding.tokenTimeout", defaults.TokenTimeout)
	v.SetDefault("forwarding.maxConcurrency", defaults.MaxConcurrency)
	v.SetDefault("forwarding.writeWeight", defaults.WriteWeight)
	v.SetDefault("forwarding.readWeight", defaults.ReadWeight)
	v.SetDefault("forwarding.reconciler.batchSize", defaults.Reconciler.BatchSize)
	v.SetDefault("forwarding.reconciler.interval", defaults.Reconciler.Interval)
	v.SetDefault("forwarding.reconciler.runTimeout", defaults.Reconciler.RunTimeout)
	v.SetDefault("forwarding.reconciler.lease", defaults.Reconciler.Lease)
	v.SetDefault("forwarding.reconciler.backoffInitial", defaults.Reconciler.BackoffInitial)
	v.SetDefault("forwarding.reconciler.backoffMax", defaults.Reconciler.BackoffMax)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg ForwardingConfig
	if err := v.UnmarshalKey("forwarding", &cfg); err != nil {
		return nil, err
	}
	if err := validateForwardingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ForwardingConfigHolder{}
	holder.current.Store(cfg)

	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ForwardingConfig
		if err := v.UnmarshalKey("forwarding", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateForwardingConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ForwardingConfigHolder) Get() ForwardingConfig {
	if h == nil {
		return DefaultForwardingConfig()
	}
	cfg, ok := h.current.Load().(ForwardingConfig)
	if !ok {
		return DefaultForwardingConfig()
	}
	return cfg
}

func validateForwardingConfig(cfg ForwardingConfig) error {
	if cfg.ForwardTimeout <= 0 || cfg.ProbeTimeout <= 0 || cfg.TokenTimeout <= 0 {
		return errors.New("forwarding timeouts must be positive")
	}
	if cfg.MaxConcurrency <= 0 {
		return errors.New("forwarding.maxConcurrency must be positive")
	}
	if cfg.WriteWeight <= 0 || cfg.ReadWeight <= 0 {
		return errors.New("forwarding weights must be positive")
	}
	if cfg.Reconciler.BatchSize <= 0 {
		return errors.New("forwarding.reconciler.batchSize must be positive")
	}
	if cfg.Reconciler.BackoffMax < cfg.Reconciler.BackoffInitial {
		return errors.New("forwarding.reconciler.backoffMax must not be below backoffInitial")
	}
	return nil
}
