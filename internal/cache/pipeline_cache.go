package cache

import (
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	apikeydomain "github.com/smallbiznis/heartline/internal/apikey/domain"
	"github.com/smallbiznis/heartline/internal/config"
	credentialdomain "github.com/smallbiznis/heartline/internal/credential/domain"
	healthdomain "github.com/smallbiznis/heartline/internal/health/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	TokenTTL    = 50 * time.Minute
	HealthTTL   = 90 * time.Second
	KeyTTL      = 15 * time.Minute
	ResponseTTL = 5 * time.Minute
)

const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// PipelineCache groups the hot-path caches of ingestion and forwarding.
type PipelineCache interface {
	GetToken(userID string) (credentialdomain.Token, bool)
	SetToken(userID string, token credentialdomain.Token)
	GetHealth(destinationID string) (healthdomain.Status, bool)
	SetHealth(destinationID string, status healthdomain.Status)
	GetKey(keyHash string) (apikeydomain.KeyOwner, bool)
	SetKey(keyHash string, owner apikeydomain.KeyOwner)
	DeleteKey(keyHash string)
	GetResponse(parts ...string) ([]byte, bool)
	SetResponse(body []byte, parts ...string)
}

type pipelineCache struct {
	tokens    Cache[string, credentialdomain.Token]
	health    Cache[string, healthdomain.Status]
	keys      Cache[string, apikeydomain.KeyOwner]
	responses Cache[string, []byte]
	now       func() time.Time
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// New picks the Redis backend when configured and reachable by address,
// otherwise the in-process LRU.
func New(p Params) PipelineCache {
	log := p.Log.Named("cache")
	if strings.EqualFold(p.Config.Cache.Driver, DriverRedis) && p.Redis != nil {
		log.Info("using redis cache backend")
		return NewRedisPipelineCache(p.Redis, log)
	}
	return NewMemoryPipelineCache(p.Config.Cache.Capacity)
}

func NewMemoryPipelineCache(capacity int) PipelineCache {
	return &pipelineCache{
		tokens:    NewTTLCache[string, credentialdomain.Token](capacity),
		health:    NewTTLCache[string, healthdomain.Status](capacity),
		keys:      NewTTLCache[string, apikeydomain.KeyOwner](capacity),
		responses: NewTTLCache[string, []byte](capacity),
		now:       time.Now,
	}
}

func NewRedisPipelineCache(client *redis.Client, log *zap.Logger) PipelineCache {
	return &pipelineCache{
		tokens:    NewRedisCache[credentialdomain.Token](client, "heartline:token", log),
		health:    NewRedisCache[healthdomain.Status](client, "heartline:health", log),
		keys:      NewRedisCache[apikeydomain.KeyOwner](client, "heartline:key", log),
		responses: NewRedisCache[[]byte](client, "heartline:response", log),
		now:       time.Now,
	}
}

func (c *pipelineCache) GetToken(userID string) (credentialdomain.Token, bool) {
	token, ok := c.tokens.Get(cacheKey(userID))
	if !ok || !token.Valid(c.now(), 0) {
		return credentialdomain.Token{}, false
	}
	return token, true
}

// SetToken never caches a token past its own expiry.
func (c *pipelineCache) SetToken(userID string, token credentialdomain.Token) {
	if token.AccessToken == "" {
		return
	}
	ttl := TokenTTL
	if !token.ExpiresAt.IsZero() {
		if remaining := token.ExpiresAt.Sub(c.now()); remaining < ttl {
			ttl = remaining
		}
	}
	c.tokens.Set(cacheKey(userID), token, ttl)
}

func (c *pipelineCache) GetHealth(destinationID string) (healthdomain.Status, bool) {
	return c.health.Get(cacheKey(destinationID))
}

func (c *pipelineCache) SetHealth(destinationID string, status healthdomain.Status) {
	c.health.Set(cacheKey(destinationID), status, HealthTTL)
}

func (c *pipelineCache) GetKey(keyHash string) (apikeydomain.KeyOwner, bool) {
	return c.keys.Get(cacheKey(keyHash))
}

func (c *pipelineCache) SetKey(keyHash string, owner apikeydomain.KeyOwner) {
	if owner.UserID == 0 {
		return
	}
	c.keys.Set(cacheKey(keyHash), owner, KeyTTL)
}

func (c *pipelineCache) DeleteKey(keyHash string) {
	c.keys.Delete(cacheKey(keyHash))
}

func (c *pipelineCache) GetResponse(parts ...string) ([]byte, bool) {
	return c.responses.Get(cacheKey(parts...))
}

func (c *pipelineCache) SetResponse(body []byte, parts ...string) {
	if len(body) == 0 {
		return
	}
	c.responses.Set(cacheKey(parts...), body, ResponseTTL)
}
