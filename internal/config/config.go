package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/skaric/qrdrop/internal/limiter"
)

// Config is the top-level configuration for a qrdrop server.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Session SessionConfig `json:"session"`
	Limits  LimitsConfig  `json:"limits"`
}

// ServerConfig holds HTTP server settings. BaseURL is the public origin
// embedded in the QR payload's submission URL.
type ServerConfig struct {
	Addr    string `json:"addr"`
	BaseURL string `json:"base_url"`
}

// SessionConfig holds session lifecycle settings.
type SessionConfig struct {
	TTL           time.Duration `json:"ttl"`
	PollInterval  time.Duration `json:"poll_interval"`
	Grace         time.Duration `json:"grace"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// LimitsConfig holds the two admission scopes and the backend choice.
// Backend "memory" keeps counters per-process; "redis" shares them
// across replicas.
type LimitsConfig struct {
	Create  limiter.Config      `json:"create"`
	Submit  limiter.Config      `json:"submit"`
	Backend string              `json:"backend"`
	Redis   limiter.RedisConfig `json:"redis"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		Session: SessionConfig{
			TTL:           5 * time.Minute,
			PollInterval:  time.Second,
			Grace:         3 * time.Second,
			SweepInterval: time.Minute,
		},
		Limits: LimitsConfig{
			Create:  limiter.Config{Rate: 10, Window: time.Minute},
			Submit:  limiter.Config{Rate: 5, Window: time.Minute},
			Backend: BackendMemory,
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	if c.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be positive, got %s", c.Session.PollInterval)
	}
	if c.Limits.Create.Rate <= 0 || c.Limits.Create.Window <= 0 {
		return fmt.Errorf("limits.create must have positive rate and window")
	}
	if c.Limits.Submit.Rate <= 0 || c.Limits.Submit.Window <= 0 {
		return fmt.Errorf("limits.submit must have positive rate and window")
	}
	switch c.Limits.Backend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("unknown limits.backend %q, must be one of: memory, redis", c.Limits.Backend)
	}
	return nil
}

// Load builds the effective config: defaults, then the optional JSON
// file, then environment overrides (a .env file is honored if present).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		var err error
		cfg, err = loadFile(cfg, path)
		if err != nil {
			return cfg, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// loadFile merges a JSON config file into cfg. Fields not specified in
// the file retain their existing values.
func loadFile(cfg Config, path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	// Use a raw intermediate struct to handle duration parsing.
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if raw.Server.BaseURL != "" {
		cfg.Server.BaseURL = raw.Server.BaseURL
	}

	if err := mergeDuration(&cfg.Session.TTL, raw.Session.TTL, "session.ttl"); err != nil {
		return cfg, err
	}
	if err := mergeDuration(&cfg.Session.PollInterval, raw.Session.PollInterval, "session.poll_interval"); err != nil {
		return cfg, err
	}
	if err := mergeDuration(&cfg.Session.Grace, raw.Session.Grace, "session.grace"); err != nil {
		return cfg, err
	}
	if err := mergeDuration(&cfg.Session.SweepInterval, raw.Session.SweepInterval, "session.sweep_interval"); err != nil {
		return cfg, err
	}

	if raw.Limits.Create.Rate > 0 {
		cfg.Limits.Create.Rate = raw.Limits.Create.Rate
	}
	if err := mergeDuration(&cfg.Limits.Create.Window, raw.Limits.Create.Window, "limits.create.window"); err != nil {
		return cfg, err
	}
	if raw.Limits.Submit.Rate > 0 {
		cfg.Limits.Submit.Rate = raw.Limits.Submit.Rate
	}
	if err := mergeDuration(&cfg.Limits.Submit.Window, raw.Limits.Submit.Window, "limits.submit.window"); err != nil {
		return cfg, err
	}
	if raw.Limits.Backend != "" {
		cfg.Limits.Backend = raw.Limits.Backend
	}
	if raw.Limits.Redis.Host != "" {
		cfg.Limits.Redis.Host = raw.Limits.Redis.Host
	}
	if raw.Limits.Redis.Port > 0 {
		cfg.Limits.Redis.Port = raw.Limits.Redis.Port
	}
	if raw.Limits.Redis.Password != "" {
		cfg.Limits.Redis.Password = raw.Limits.Redis.Password
	}
	if raw.Limits.Redis.DB > 0 {
		cfg.Limits.Redis.DB = raw.Limits.Redis.DB
	}

	return cfg, nil
}

// applyEnv overrides cfg from QRDROP_* environment variables. A .env
// file in the working directory is loaded first if present; real
// environment variables win over it.
func applyEnv(cfg *Config) error {
	_ = godotenv.Load()

	cfg.Server.Addr = getEnv("QRDROP_ADDR", cfg.Server.Addr)
	cfg.Server.BaseURL = getEnv("QRDROP_BASE_URL", cfg.Server.BaseURL)
	cfg.Limits.Backend = getEnv("QRDROP_LIMITER_BACKEND", cfg.Limits.Backend)
	cfg.Limits.Redis.Host = getEnv("QRDROP_REDIS_HOST", cfg.Limits.Redis.Host)
	cfg.Limits.Redis.Password = getEnv("QRDROP_REDIS_PASSWORD", cfg.Limits.Redis.Password)

	if err := envDuration("QRDROP_SESSION_TTL", &cfg.Session.TTL); err != nil {
		return err
	}
	if err := envInt("QRDROP_CREATE_RATE", &cfg.Limits.Create.Rate); err != nil {
		return err
	}
	if err := envInt("QRDROP_SUBMIT_RATE", &cfg.Limits.Submit.Rate); err != nil {
		return err
	}
	if err := envInt("QRDROP_REDIS_PORT", &cfg.Limits.Redis.Port); err != nil {
		return err
	}
	if err := envInt("QRDROP_REDIS_DB", &cfg.Limits.Redis.DB); err != nil {
		return err
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func mergeDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", field, err)
	}
	*dst = d
	return nil
}

// rawConfig is the JSON-friendly representation with string durations.
type rawConfig struct {
	Server struct {
		Addr    string `json:"addr"`
		BaseURL string `json:"base_url"`
	} `json:"server"`
	Session struct {
		TTL           string `json:"ttl"`
		PollInterval  string `json:"poll_interval"`
		Grace         string `json:"grace"`
		SweepInterval string `json:"sweep_interval"`
	} `json:"session"`
	Limits struct {
		Create struct {
			Rate   int    `json:"rate"`
			Window string `json:"window"`
		} `json:"create"`
		Submit struct {
			Rate   int    `json:"rate"`
			Window string `json:"window"`
		} `json:"submit"`
		Backend string `json:"backend"`
		Redis   struct {
			Host     string `json:"host"`
			Port     int    `json:"port"`
			Password string `json:"password"`
			DB       int    `json:"db"`
		} `json:"redis"`
	} `json:"limits"`
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `{
  "server": {
    "addr": ":8080",
    "base_url": "https://drop.example.com"
  },
  "session": {
    "ttl": "5m",
    "poll_interval": "1s",
    "grace": "3s",
    "sweep_interval": "1m"
  },
  "limits": {
    "create": { "rate": 10, "window": "1m" },
    "submit": { "rate": 5, "window": "1m" },
    "backend": "memory"
  }
}
`
	return os.WriteFile(path, []byte(example), 0o644)
}
