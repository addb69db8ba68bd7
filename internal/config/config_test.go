package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 32, cfg.Server.BodyLimitMB)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "gemini-2.5-flash", cfg.Extraction.Model)
	assert.Equal(t, 2*time.Minute, cfg.ExtractionTimeout())
	assert.Equal(t, 20, cfg.Billing.DefaultClosingDay)
	assert.InDelta(t, 0.60, cfg.Reconcile.Threshold, 1e-9)
	assert.Equal(t, 5, cfg.Reconcile.MinLength)
	assert.Equal(t, 5, cfg.Jobs.Workers)
	assert.Equal(t, 0, cfg.Jobs.MaxRetries)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("INVOICE_STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/invoices?sslmode=disable")
	t.Setenv("GEMINI_API_KEY", "key-from-env")
	t.Setenv("INVOICE_RECONCILE_THRESHOLD", "0.75")
	t.Setenv("INVOICE_JOBS_WORKERS", "2")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/invoices?sslmode=disable", cfg.Store.PostgresDSN)
	assert.Equal(t, "key-from-env", cfg.Extraction.APIKey)
	assert.InDelta(t, 0.75, cfg.Reconcile.Threshold, 1e-9)
	assert.Equal(t, 2, cfg.Jobs.Workers)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
  format: json
store:
  driver: bigquery
  project_id: my-project
  dataset: ledger
billing:
  default_closing_day: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, DriverBigQuery, cfg.Store.Driver)
	assert.Equal(t, "my-project", cfg.Store.ProjectID)
	assert.Equal(t, "ledger", cfg.Store.Dataset)
	assert.Equal(t, 10, cfg.Billing.DefaultClosingDay)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Log.Level = "info"
		cfg.Log.Format = "console"
		cfg.Server.BodyLimitMB = 32
		cfg.Store.Driver = DriverMemory
		cfg.Extraction.TimeoutSeconds = 60
		cfg.Billing.DefaultClosingDay = 20
		cfg.Reconcile.Threshold = 0.6
		cfg.Reconcile.MinLength = 5
		cfg.Jobs.Workers = 1
		cfg.Jobs.BufferSize = 10
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"unknown driver", func(c *Config) { c.Store.Driver = "sqlite" }},
		{"bigquery without project", func(c *Config) { c.Store.Driver = DriverBigQuery; c.Store.Dataset = "d" }},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = DriverPostgres }},
		{"zero body limit", func(c *Config) { c.Server.BodyLimitMB = 0 }},
		{"zero timeout", func(c *Config) { c.Extraction.TimeoutSeconds = 0 }},
		{"closing day 29", func(c *Config) { c.Billing.DefaultClosingDay = 29 }},
		{"threshold above one", func(c *Config) { c.Reconcile.Threshold = 1.5 }},
		{"min length zero", func(c *Config) { c.Reconcile.MinLength = 0 }},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }},
		{"negative retries", func(c *Config) { c.Jobs.MaxRetries = -1 }},
	}

	require.NoError(t, validateConfig(valid()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, validateConfig(cfg))
		})
	}
}
