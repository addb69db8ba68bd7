// Package config loads service configuration from defaults, an optional YAML
// file, a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverBigQuery = "bigquery"
	DriverPostgres = "postgres"
)

// Config is the complete application configuration.
type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Server struct {
		Port        string `mapstructure:"port"`
		BodyLimitMB int    `mapstructure:"body_limit_mb"`
	} `mapstructure:"server"`

	Store struct {
		Driver      string `mapstructure:"driver"`
		ProjectID   string `mapstructure:"project_id"`
		Dataset     string `mapstructure:"dataset"`
		PostgresDSN string `mapstructure:"postgres_dsn"`
		SeedFile    string `mapstructure:"seed_file"`
	} `mapstructure:"store"`

	Extraction struct {
		Model          string `mapstructure:"model"`
		APIKey         string `mapstructure:"api_key"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	} `mapstructure:"extraction"`

	Billing struct {
		DefaultClosingDay int `mapstructure:"default_closing_day"`
	} `mapstructure:"billing"`

	Reconcile struct {
		Threshold float64 `mapstructure:"threshold"`
		MinLength int     `mapstructure:"min_length"`
	} `mapstructure:"reconcile"`

	Archive struct {
		Bucket string `mapstructure:"bucket"`
	} `mapstructure:"archive"`

	Jobs struct {
		BufferSize int `mapstructure:"buffer_size"`
		Workers    int `mapstructure:"workers"`
		MaxRetries int `mapstructure:"max_retries"`
	} `mapstructure:"jobs"`

	Notion struct {
		Token      string `mapstructure:"token"`
		DatabaseID string `mapstructure:"database_id"`
	} `mapstructure:"notion"`
}

// ExtractionTimeout is the deadline for one extraction call.
func (c *Config) ExtractionTimeout() time.Duration {
	return time.Duration(c.Extraction.TimeoutSeconds) * time.Second
}

// Load reads the configuration. configFile may be empty to use the search path.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("Load: read .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.invoice-ingest")
		v.AddConfigPath("/etc/invoice-ingest")
	}

	v.SetEnvPrefix("INVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("Load: read config file: %w", err)
		}
	}

	bindings := map[string]string{
		"extraction.api_key": "GEMINI_API_KEY",
		"archive.bucket":     "GCS_BUCKET",
		"notion.token":       "NOTION_TOKEN",
		"store.postgres_dsn": "DATABASE_URL",
		"store.project_id":   "GOOGLE_CLOUD_PROJECT",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, "INVOICE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("Load: bind %s: %w", env, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("Load: unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("Load: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.body_limit_mb", 32)

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.project_id", "")
	v.SetDefault("store.dataset", "invoices")
	v.SetDefault("store.postgres_dsn", "")
	v.SetDefault("store.seed_file", "")

	v.SetDefault("extraction.model", "gemini-2.5-flash")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.timeout_seconds", 120)

	v.SetDefault("billing.default_closing_day", 20)

	v.SetDefault("reconcile.threshold", 0.60)
	v.SetDefault("reconcile.min_length", 5)

	v.SetDefault("archive.bucket", "")

	v.SetDefault("jobs.buffer_size", 100)
	v.SetDefault("jobs.workers", 5)
	v.SetDefault("jobs.max_retries", 0)

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")
}

func validateConfig(cfg *Config) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level: %s", cfg.Log.Level)
	}
	if cfg.Log.Format != "console" && cfg.Log.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", cfg.Log.Format)
	}

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverBigQuery:
		if cfg.Store.ProjectID == "" {
			return fmt.Errorf("store.project_id is required for the bigquery driver")
		}
		if cfg.Store.Dataset == "" {
			return fmt.Errorf("store.dataset is required for the bigquery driver")
		}
	case DriverPostgres:
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn (or DATABASE_URL) is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	if cfg.Server.BodyLimitMB < 1 {
		return fmt.Errorf("server.body_limit_mb must be positive, got: %d", cfg.Server.BodyLimitMB)
	}
	if cfg.Extraction.TimeoutSeconds < 1 || cfg.Extraction.TimeoutSeconds > 600 {
		return fmt.Errorf("extraction.timeout_seconds must be between 1 and 600, got: %d", cfg.Extraction.TimeoutSeconds)
	}
	if cfg.Billing.DefaultClosingDay < 1 || cfg.Billing.DefaultClosingDay > 28 {
		return fmt.Errorf("billing.default_closing_day must be between 1 and 28, got: %d", cfg.Billing.DefaultClosingDay)
	}
	if cfg.Reconcile.Threshold <= 0 || cfg.Reconcile.Threshold > 1 {
		return fmt.Errorf("reconcile.threshold must be in (0, 1], got: %f", cfg.Reconcile.Threshold)
	}
	if cfg.Reconcile.MinLength < 1 {
		return fmt.Errorf("reconcile.min_length must be positive, got: %d", cfg.Reconcile.MinLength)
	}
	if cfg.Jobs.Workers < 1 || cfg.Jobs.BufferSize < 1 || cfg.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs settings must be positive (workers=%d buffer_size=%d max_retries=%d)",
			cfg.Jobs.Workers, cfg.Jobs.BufferSize, cfg.Jobs.MaxRetries)
	}
	return nil
}
