package limiter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/skaric/qrdrop/internal/clock"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second

	redisKeyPrefix = "qrdrop:rl:"
)

// Fixed window counter in Redis: INCR the per-key counter and start the
// window TTL on first increment. Returns {count, remaining ttl ms}.
var redisFixedWindowScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])

local count = redis.call('INCR', key)
if count == 1 then
  redis.call('PEXPIRE', key, window)
end

local ttl = redis.call('PTTL', key)
if ttl < 0 then
  redis.call('PEXPIRE', key, window)
  ttl = window
end

return {count, ttl}
`)

// RedisConfig configures the Redis limiter backend.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`

	Cluster      bool     `json:"cluster"`
	ClusterNodes []string `json:"cluster_nodes"`

	PoolSize    int           `json:"pool_size"`
	MaxRetries  int           `json:"max_retries"`
	DialTimeout time.Duration `json:"dial_timeout"`
}

// RedisLimiter is a fixed-window limiter whose counters live in Redis,
// so admission state is shared when the service runs as multiple
// replicas. Session state stays per-process; only rate limit counters
// are shared.
type RedisLimiter struct {
	client redis.UniversalClient
	script *redis.Script
	clock  clock.Clock
	limit  int
	window time.Duration
	scope  string

	closeOnce sync.Once
	closeErr  error
}

// NewRedisLimiter constructs a Redis-backed limiter. scope namespaces the
// keys so independent limiter scopes never collide on the same identifier.
func NewRedisLimiter(cfg *RedisConfig, scope string, limit int, window time.Duration, c clock.Clock) (*RedisLimiter, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}
	if scope == "" {
		return nil, fmt.Errorf("scope is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", window)
	}
	if c == nil {
		return nil, fmt.Errorf("clock is required")
	}

	client, err := newRedisClient(conf)
	if err != nil {
		return nil, err
	}

	l := &RedisLimiter{
		client: client,
		script: redisFixedWindowScript,
		clock:  c,
		limit:  limit,
		window: window,
		scope:  scope,
	}

	if err := l.pingWithRetry(context.Background(), conf.MaxRetries); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return l, nil
}

// Allow checks and updates the fixed-window counter for key.
// On Redis failure the request is denied with a short RetryAt rather than
// admitted, so an outage cannot be used to bypass admission control.
func (l *RedisLimiter) Allow(ctx context.Context, key string) Decision {
	now := l.clock.Now()
	redisKey := redisKeyPrefix + l.scope + ":" + key

	res, err := l.script.Run(ctx, l.client, []string{redisKey}, l.window.Milliseconds()).Result()
	if err != nil {
		log.Printf("redis limiter check failed for key %q: %v", key, err)
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     l.limit,
			ResetAt:   now.Add(l.window),
			RetryAt:   now.Add(time.Second),
		}
	}

	count, ttl, err := parseScriptResult(res)
	if err != nil {
		log.Printf("redis limiter bad script result for key %q: %v", key, err)
		return Decision{
			Allowed:   false,
			Remaining: 0,
			Limit:     l.limit,
			ResetAt:   now.Add(l.window),
			RetryAt:   now.Add(time.Second),
		}
	}

	resetAt := now.Add(time.Duration(ttl) * time.Millisecond)
	if count <= int64(l.limit) {
		return Decision{
			Allowed:   true,
			Remaining: l.limit - int(count),
			Limit:     l.limit,
			ResetAt:   resetAt,
		}
	}

	return Decision{
		Allowed:   false,
		Remaining: 0,
		Limit:     l.limit,
		ResetAt:   resetAt,
		RetryAt:   resetAt,
	}
}

// Close releases Redis resources. It is idempotent.
func (l *RedisLimiter) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.client.Close()
	})
	return l.closeErr
}

func (l *RedisLimiter) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := l.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func parseScriptResult(res interface{}) (count, ttl int64, err error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis script result: %T", res)
	}

	count, err = asInt64(values[0])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing count result: %w", err)
	}
	ttl, err = asInt64(values[1])
	if err != nil {
		return 0, 0, fmt.Errorf("parsing ttl result: %w", err)
	}
	return count, ttl, nil
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, fmt.Errorf("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, fmt.Errorf("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) (redis.UniversalClient, error) {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			MaxRetries:  cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
		}), nil
	}

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	}), nil
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
