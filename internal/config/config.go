package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/richardliu001/doubles-registration/internal/outbox"
	"github.com/richardliu001/doubles-registration/internal/pairing"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Cron      CronConfig      `yaml:"cron"`
	Pairing   PairingConfig   `yaml:"pairing"`
	NodeID    int64           `yaml:"node_id" env:"NODE_ID"`
	LogLevel  string          `yaml:"log_level" env:"LOG_LEVEL"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"PORT"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn" env:"POSTGRES_DSN"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps" env:"RATELIMIT_RPS"`
	Burst int `yaml:"burst" env:"RATELIMIT_BURST"`
}

type OutboxConfig struct {
	BatchSize    int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE"`
	MaxAttempts  int           `yaml:"max_attempts" env:"OUTBOX_MAX_ATTEMPTS"`
	RetryBackoff time.Duration `yaml:"retry_backoff" env:"OUTBOX_RETRY_BACKOFF"`
	MaxBackoff   time.Duration `yaml:"max_backoff" env:"OUTBOX_MAX_BACKOFF"`
	Interval     time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL"`
}

type CronConfig struct {
	Env                 string        `yaml:"env" env:"CRON_ENV"`
	LeaseTTL            time.Duration `yaml:"lease_ttl" env:"CRON_LEASE_TTL"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval" env:"CRON_EXPIRY_SWEEP_INTERVAL"`
	ExpirySweepLimit    int           `yaml:"expiry_sweep_limit" env:"CRON_EXPIRY_SWEEP_LIMIT"`
}

type PairingConfig struct {
	SplitDeadlineHours    int           `yaml:"split_deadline_hours" env:"PAIRING_SPLIT_DEADLINE_HOURS"`
	FallbackDeadlineHours int           `yaml:"fallback_deadline_hours" env:"PAIRING_FALLBACK_DEADLINE_HOURS"`
	InviteMinutes         int           `yaml:"invite_minutes" env:"PAIRING_INVITE_MINUTES"`
	MinInviteMinutes      int           `yaml:"min_invite_minutes" env:"PAIRING_MIN_INVITE_MINUTES"`
	MaxInviteMinutes      int           `yaml:"max_invite_minutes" env:"PAIRING_MAX_INVITE_MINUTES"`
	SwapConfirmTTL        time.Duration `yaml:"swap_confirm_ttl" env:"PAIRING_SWAP_CONFIRM_TTL"`
}

// Policy converts the section into deadline bounds; zero values keep the defaults.
func (p PairingConfig) Policy() pairing.Policy {
	pol := pairing.DefaultPolicy()
	if p.SplitDeadlineHours > 0 {
		pol.SplitDeadlineHours = p.SplitDeadlineHours
	}
	if p.FallbackDeadlineHours > 0 {
		pol.FallbackDeadline = time.Duration(p.FallbackDeadlineHours) * time.Hour
	}
	if p.InviteMinutes > 0 {
		pol.DefaultInviteMinutes = p.InviteMinutes
	}
	if p.MinInviteMinutes > 0 {
		pol.MinInviteMinutes = p.MinInviteMinutes
	}
	if p.MaxInviteMinutes > 0 {
		pol.MaxInviteMinutes = p.MaxInviteMinutes
	}
	if p.SwapConfirmTTL > 0 {
		pol.SwapConfirmTTL = p.SwapConfirmTTL
	}
	return pol
}

// Dispatcher converts the section into dispatcher settings.
func (o OutboxConfig) Dispatcher() outbox.Config {
	return outbox.Config{
		BatchSize:   o.BatchSize,
		MaxAttempts: o.MaxAttempts,
		BaseBackoff: o.RetryBackoff,
		MaxBackoff:  o.MaxBackoff,
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 50
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 100
	}
	if c.Outbox.Interval == 0 {
		c.Outbox.Interval = 5 * time.Second
	}
	if c.Cron.Env == "" {
		c.Cron.Env = "dev"
	}
	if c.Cron.LeaseTTL == 0 {
		c.Cron.LeaseTTL = 90 * time.Second
	}
	if c.Cron.ExpirySweepInterval == 0 {
		c.Cron.ExpirySweepInterval = time.Minute
	}
	if c.Cron.ExpirySweepLimit == 0 {
		c.Cron.ExpirySweepLimit = 200
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.NodeID == 0 {
		c.NodeID = 1
	}
}

// Load reads the yaml file, then lets environment variables override individual keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}
	cfg.applyDefaults()
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	return &cfg, nil
}
