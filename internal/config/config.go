// Package config loads settings from .env, an optional YAML file and AJO_*
// environment variables, in that order of precedence (lowest first).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
	"github.com/sheikh-saqib/ajo-savings-ledger/internal/storage/seal"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Storage StorageConfig `yaml:"storage"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Queue   QueueConfig   `yaml:"queue"`
	Sync    SyncConfig    `yaml:"sync"`
	Gateway GatewayConfig `yaml:"gateway"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	HTTP    HTTPConfig    `yaml:"http"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is auto, console or json. Auto picks console on a terminal.
	Format string `yaml:"format"`
}

type StorageConfig struct {
	// Driver is memory, file or postgres.
	Driver       string `yaml:"driver"`
	SnapshotPath string `yaml:"snapshot_path"`
	// EncryptionKey is 32 bytes as hex or base64; empty stores plaintext.
	EncryptionKey string         `yaml:"encryption_key"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

type Bounds struct {
	Min int64 `yaml:"min"`
	Max int64 `yaml:"max"`
}

type LedgerConfig struct {
	CommissionRate    string            `yaml:"commission_rate"`
	CommissionAccount string            `yaml:"commission_account"`
	Bounds            map[string]Bounds `yaml:"bounds"`
}

type QueueConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type SyncConfig struct {
	Workers     int           `yaml:"workers"`
	BatchSize   int           `yaml:"batch_size"`
	Interval    time.Duration `yaml:"interval"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
	Owner       string        `yaml:"owner"`
}

type GatewayConfig struct {
	// Driver is simulator or http.
	Driver            string        `yaml:"driver"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// RedisConfig enables the rate cache when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	RateTTL  time.Duration `yaml:"rate_ttl"`
}

// KafkaConfig enables event publishing and the notification consumer when
// Brokers is set.
type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type HTTPConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "auto"},
		Storage: StorageConfig{Driver: "file", SnapshotPath: "ajo-ledger.db", Postgres: PostgresConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: 30 * time.Minute, QueryTimeout: 30 * time.Second}},
		Ledger: LedgerConfig{
			CommissionRate:    "0.01",
			CommissionAccount: "ajo-commission",
			Bounds: map[string]Bounds{
				"UGX":  {Min: 1_000, Max: 10_000_000},
				"BTC":  {Min: 10_000, Max: 100_000_000},
				"USDT": {Min: 1_000_000, Max: 10_000_000_000},
			},
		},
		Queue:   QueueConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 5 * time.Minute},
		Sync:    SyncConfig{Workers: 4, BatchSize: 50, Interval: 5 * time.Minute, CallTimeout: 30 * time.Second, ClaimTTL: 10 * time.Minute},
		Gateway: GatewayConfig{Driver: "simulator", Timeout: 30 * time.Second, RequestsPerSecond: 10, Burst: 5, BreakerFailures: 3, BreakerTimeout: time.Minute},
		Redis:   RedisConfig{RateTTL: 10 * time.Minute},
		Kafka:   KafkaConfig{NotificationsTopic: "gateway.notifications", GroupID: "ajo-ledger"},
		HTTP:    HTTPConfig{Addr: ":8080", ReadTimeout: 15 * time.Second, WriteTimeout: 60 * time.Second},
	}
}

// Load builds the configuration. A missing .env is fine; a path that was
// given but cannot be read is not.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("AJO_LOG_LEVEL", &cfg.Log.Level)
	str("AJO_LOG_FORMAT", &cfg.Log.Format)
	str("AJO_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("AJO_SNAPSHOT_PATH", &cfg.Storage.SnapshotPath)
	str("AJO_ENCRYPTION_KEY", &cfg.Storage.EncryptionKey)
	str("AJO_PG_DSN", &cfg.Storage.Postgres.DSN)
	str("AJO_COMMISSION_RATE", &cfg.Ledger.CommissionRate)
	str("AJO_COMMISSION_ACCOUNT", &cfg.Ledger.CommissionAccount)
	num("AJO_QUEUE_MAX_ATTEMPTS", &cfg.Queue.MaxAttempts)
	num("AJO_SYNC_WORKERS", &cfg.Sync.Workers)
	dur("AJO_SYNC_INTERVAL", &cfg.Sync.Interval)
	dur("AJO_SYNC_TIMEOUT", &cfg.Sync.CallTimeout)
	str("AJO_GATEWAY_DRIVER", &cfg.Gateway.Driver)
	str("AJO_GATEWAY_URL", &cfg.Gateway.BaseURL)
	str("AJO_GATEWAY_API_KEY", &cfg.Gateway.APIKey)
	str("AJO_REDIS_ADDR", &cfg.Redis.Addr)
	str("AJO_REDIS_PASSWORD", &cfg.Redis.Password)
	str("AJO_HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := os.LookupEnv("AJO_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "memory":
	case "file":
		if c.Storage.SnapshotPath == "" {
			errs = append(errs, errors.New("storage.snapshot_path is required for the file driver"))
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not one of memory, file, postgres", c.Storage.Driver))
	}
	if c.Storage.EncryptionKey != "" {
		if _, err := seal.ParseKey(c.Storage.EncryptionKey); err != nil {
			errs = append(errs, fmt.Errorf("storage.encryption_key: %w", err))
		}
	}

	if _, err := c.CommissionRate(); err != nil {
		errs = append(errs, err)
	}
	for cur, b := range c.Ledger.Bounds {
		if _, err := models.ParseCurrency(cur); err != nil {
			errs = append(errs, fmt.Errorf("ledger.bounds: %w", err))
		}
		if b.Min < 0 || (b.Max > 0 && b.Min > b.Max) {
			errs = append(errs, fmt.Errorf("ledger.bounds.%s: min %d and max %d are inconsistent", cur, b.Min, b.Max))
		}
	}

	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	if c.Queue.BaseDelay <= 0 || c.Queue.MaxDelay < c.Queue.BaseDelay {
		errs = append(errs, errors.New("queue.base_delay must be positive and no greater than queue.max_delay"))
	}
	if c.Sync.Workers < 1 || c.Sync.BatchSize < 1 {
		errs = append(errs, errors.New("sync.workers and sync.batch_size must be positive"))
	}
	if c.Sync.Interval <= 0 || c.Sync.CallTimeout <= 0 {
		errs = append(errs, errors.New("sync.interval and sync.call_timeout must be positive"))
	}

	switch c.Gateway.Driver {
	case "simulator":
	case "http":
		if c.Gateway.BaseURL == "" {
			errs = append(errs, errors.New("gateway.base_url is required for the http driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("gateway.driver %q is not one of simulator, http", c.Gateway.Driver))
	}
	return errors.Join(errs...)
}

// CommissionRate parses the configured rate, a fraction in [0, 1).
func (c Config) CommissionRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Ledger.CommissionRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.commission_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("ledger.commission_rate %s must be in [0, 1)", rate)
	}
	return rate, nil
}
