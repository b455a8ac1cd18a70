package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config top-level struct
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Redis       RedisConfig       `yaml:"redis"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit"`
	Auth        AuthConfig        `yaml:"auth"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Poller      PollerConfig      `yaml:"poller"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RateLimitConfig struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type LedgerConfig struct {
	// FeeCollector receives transfer fees so token supply is conserved.
	FeeCollector   string        `yaml:"fee_collector"`
	StorageTimeout time.Duration `yaml:"storage_timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
}

type IdempotencyConfig struct {
	LockTTL   time.Duration `yaml:"lock_ttl"`
	Retention time.Duration `yaml:"retention"`
}

type PollerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

// Load reads yaml file
func Load(path string) (*Config, error) {
	// a missing .env is normal outside local development
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	// override DSN password from env if present
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		cfg.Postgres.DSN = cfg.Postgres.DSN + " password=" + pw
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.RateLimit.RPS == 0 {
		c.RateLimit.RPS = 20
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 40
	}
	if c.Ledger.StorageTimeout == 0 {
		c.Ledger.StorageTimeout = 5 * time.Second
	}
	if c.Ledger.HistoryLimit == 0 {
		c.Ledger.HistoryLimit = 50
	}
	if c.Idempotency.LockTTL == 0 {
		c.Idempotency.LockTTL = 30 * time.Second
	}
	if c.Idempotency.Retention == 0 {
		c.Idempotency.Retention = 24 * time.Hour
	}
	if c.Poller.Interval == 0 {
		c.Poller.Interval = time.Second
	}
	if c.Poller.BatchSize == 0 {
		c.Poller.BatchSize = 100
	}
}

// Validate rejects configurations the ledger cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	if !common.IsHexAddress(c.Ledger.FeeCollector) {
		return fmt.Errorf("ledger.fee_collector %q is not a wallet address", c.Ledger.FeeCollector)
	}
	return nil
}
