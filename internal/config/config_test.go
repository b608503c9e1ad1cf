package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ajo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, 5, cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 30*time.Second, cfg.Sync.CallTimeout)
	assert.Equal(t, Bounds{Min: 1_000, Max: 10_000_000}, cfg.Ledger.Bounds["UGX"])

	rate, err := cfg.CommissionRate()
	require.NoError(t, err)
	assert.Equal(t, "0.01", rate.String())
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeFile(t, `
storage:
  driver: memory
ledger:
  commission_rate: "0.02"
  bounds:
    UGX: {min: 500, max: 2000000}
sync:
  workers: 8
  interval: 1m
kafka:
  brokers: [kafka-1:9092]
`)
	t.Setenv("AJO_SYNC_WORKERS", "2")
	t.Setenv("AJO_KAFKA_BROKERS", "a:9092, b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, Bounds{Min: 500, Max: 2_000_000}, cfg.Ledger.Bounds["UGX"])
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Sync.Workers, "environment wins over the file")
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 50, cfg.Sync.BatchSize, "unset keys keep their defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("AJO_GATEWAY_DRIVER=http\nAJO_GATEWAY_URL=https://gw.example\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("AJO_GATEWAY_DRIVER")
		os.Unsetenv("AJO_GATEWAY_URL")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http", cfg.Gateway.Driver)
	assert.Equal(t, "https://gw.example", cfg.Gateway.BaseURL)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	t.Setenv("AJO_SYNC_INTERVAL", "soon")
	_, err = Load("")
	assert.ErrorContains(t, err, "AJO_SYNC_INTERVAL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown storage", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.postgres.dsn"},
		{"bad key", func(c *Config) { c.Storage.EncryptionKey = "short" }, "storage.encryption_key"},
		{"rate too high", func(c *Config) { c.Ledger.CommissionRate = "1.5" }, "commission_rate"},
		{"unknown currency", func(c *Config) { c.Ledger.Bounds["KES"] = Bounds{Min: 1, Max: 2} }, "ledger.bounds"},
		{"inverted bounds", func(c *Config) { c.Ledger.Bounds["UGX"] = Bounds{Min: 10, Max: 1} }, "inconsistent"},
		{"no attempts", func(c *Config) { c.Queue.MaxAttempts = 0 }, "queue.max_attempts"},
		{"http without url", func(c *Config) { c.Gateway.Driver = "http" }, "gateway.base_url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
	assert.NoError(t, Default().Validate())
}
