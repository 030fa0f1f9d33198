// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"` // bearer key for mutating ops endpoints; empty disables them
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`       // bot registration view cache
	DedupTTL time.Duration `yaml:"dedup_ttl"` // inbound update id memory
}

type ControlConfig struct {
	URL            string        `yaml:"ws_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	SharedSecret   string        `yaml:"shared_secret"`
	TokenTTL       time.Duration `yaml:"token_ttl"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

type TransportConfig struct {
	Mode           string        `yaml:"mode"` // telegram | noop
	APIEndpoint    string        `yaml:"api_endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollTimeout    int           `yaml:"poll_timeout"` // seconds, long polling
	UpdateWorkers  int           `yaml:"update_workers"`
}

type QuotaConfig struct {
	TrialLimit       int           `yaml:"trial_limit"`
	ActivityMaxAge   time.Duration `yaml:"activity_max_age"`
	ActivityCapacity int           `yaml:"activity_capacity"` // per session
	NotifyBatch      int           `yaml:"notify_batch"`
}

type MessagesConfig struct {
	Welcome             string `yaml:"welcome"`
	TrialEnded          string `yaml:"trial_ended"`
	PhotoPlaceholder    string `yaml:"photo_placeholder"`
	DocumentPlaceholder string `yaml:"document_placeholder"`
	UnknownUsername     string `yaml:"unknown_username"`
}

type SchedulerConfig struct {
	ExpiryCheckCron   string `yaml:"expiry_check_cron"`
	TrialCheckCron    string `yaml:"trial_check_cron"`
	ActivityEvictCron string `yaml:"activity_evict_cron"`
	PoolStatsCron     string `yaml:"pool_stats_cron"`
}

type RouterConfig struct {
	QueueSize int `yaml:"queue_size"` // session event buffer
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Control   ControlConfig   `yaml:"control"`
	Transport TransportConfig `yaml:"transport"`
	Quota     QuotaConfig     `yaml:"quota"`
	Messages  MessagesConfig  `yaml:"messages"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Router    RouterConfig    `yaml:"router"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads .env (if present), the YAML file at path (optional when it does
// not exist), applies environment overrides and defaults, then validates.
func LoadConfig(path string, dev bool) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	override := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	override(&cfg.Database.URL, "DATABASE_URL")
	override(&cfg.Redis.URL, "REDIS_URL")
	override(&cfg.Redis.Password, "REDIS_PASSWORD")
	override(&cfg.Control.URL, "BACKEND_WS_URL")
	override(&cfg.Control.SharedSecret, "CONTROL_SECRET")
	override(&cfg.Log.Level, "LOG_LEVEL")
	override(&cfg.Admin.APIKey, "ADMIN_API_KEY")
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 20
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL, 5*time.Minute)
	cfg.Redis.DedupTTL = normalizeTTL(cfg.Redis.DedupTTL, 24*time.Hour)

	if cfg.Control.URL == "" {
		cfg.Control.URL = "ws://localhost:3000/bot-service"
	}
	if cfg.Control.ReconnectDelay <= 0 {
		cfg.Control.ReconnectDelay = 5 * time.Second
	}
	cfg.Control.TokenTTL = normalizeTTL(cfg.Control.TokenTTL, 10*time.Minute)
	cfg.Control.WriteTimeout = normalizeTTL(cfg.Control.WriteTimeout, 10*time.Second)

	if cfg.Transport.Mode == "" {
		cfg.Transport.Mode = "telegram"
	}
	if cfg.Transport.PollTimeout <= 0 {
		cfg.Transport.PollTimeout = 50
	}
	if cfg.Transport.RequestTimeout <= 0 {
		// must outlive a long poll
		cfg.Transport.RequestTimeout = time.Duration(cfg.Transport.PollTimeout+25) * time.Second
	}
	if cfg.Transport.UpdateWorkers <= 0 {
		cfg.Transport.UpdateWorkers = 4
	}

	if cfg.Quota.TrialLimit <= 0 {
		cfg.Quota.TrialLimit = 20
	}
	cfg.Quota.ActivityMaxAge = normalizeTTL(cfg.Quota.ActivityMaxAge, 24*time.Hour)
	if cfg.Quota.ActivityCapacity <= 0 {
		cfg.Quota.ActivityCapacity = 10000
	}
	if cfg.Quota.NotifyBatch <= 0 {
		cfg.Quota.NotifyBatch = 500
	}

	if cfg.Messages.Welcome == "" {
		cfg.Messages.Welcome = fmt.Sprintf("👋 Welcome! You are in trial mode (%d free messages).", cfg.Quota.TrialLimit)
	}
	if cfg.Messages.TrialEnded == "" {
		cfg.Messages.TrialEnded = fmt.Sprintf("⚠️ Your trial has ended (%d messages used). Please contact the administrator to activate access.", cfg.Quota.TrialLimit)
	}
	if cfg.Messages.PhotoPlaceholder == "" {
		cfg.Messages.PhotoPlaceholder = "[photo]"
	}
	if cfg.Messages.DocumentPlaceholder == "" {
		cfg.Messages.DocumentPlaceholder = "[file]"
	}
	if cfg.Messages.UnknownUsername == "" {
		cfg.Messages.UnknownUsername = "unknown user"
	}

	if cfg.Scheduler.ExpiryCheckCron == "" {
		cfg.Scheduler.ExpiryCheckCron = "@every 60s"
	}
	if cfg.Scheduler.TrialCheckCron == "" {
		cfg.Scheduler.TrialCheckCron = "@every 30s"
	}
	if cfg.Scheduler.ActivityEvictCron == "" {
		cfg.Scheduler.ActivityEvictCron = "@every 1h"
	}
	if cfg.Scheduler.PoolStatsCron == "" {
		cfg.Scheduler.PoolStatsCron = "@every 15s"
	}

	if cfg.Router.QueueSize <= 0 {
		cfg.Router.QueueSize = 1024
	}
}

// Validate performs minimal validation.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch strings.ToLower(c.Transport.Mode) {
	case "telegram", "noop":
	default:
		return fmt.Errorf("transport.mode %q is not supported", c.Transport.Mode)
	}
	return nil
}

func normalizeTTL(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
