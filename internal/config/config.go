// Package config holds the complete daemon configuration. Values come from
// three layers in override order: built-in defaults, an optional YAML file,
// then environment variables resolved through the `env` struct tags.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Render    RenderConfig    `yaml:"render"`
	Narration NarrationConfig `yaml:"narration"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `yaml:"host" env:"RENDERD_HOST"`
	Port         int           `yaml:"port" env:"RENDERD_PORT"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"RENDERD_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"RENDERD_WRITE_TIMEOUT"`
	EnableCORS   bool          `yaml:"enable_cors" env:"RENDERD_ENABLE_CORS"`
}

// DatabaseConfig selects the job store backend.
type DatabaseConfig struct {
	Type     string `yaml:"type" env:"DATABASE_TYPE"` // sqlite or postgres
	Path     string `yaml:"path" env:"RENDERD_DATABASE_PATH"`
	Host     string `yaml:"host" env:"POSTGRES_HOST"`
	Port     int    `yaml:"port" env:"POSTGRES_PORT"`
	Username string `yaml:"username" env:"POSTGRES_USER"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD"`
	Database string `yaml:"database" env:"POSTGRES_DB"`
}

// JobsConfig governs the scheduler, cleanup, and webhook delivery.
type JobsConfig struct {
	WorkDir                string        `yaml:"work_dir" env:"RENDERD_WORK_DIR"`
	CompositionConcurrency int           `yaml:"composition_concurrency" env:"RENDERD_COMPOSITION_CONCURRENCY"`
	AssemblyConcurrency    int           `yaml:"assembly_concurrency" env:"RENDERD_ASSEMBLY_CONCURRENCY"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval" env:"RENDERD_CLEANUP_INTERVAL"`
	RetentionAge           time.Duration `yaml:"retention_age" env:"RENDERD_RETENTION_AGE"`
	RetentionAgePressured  time.Duration `yaml:"retention_age_pressured" env:"RENDERD_RETENTION_AGE_PRESSURED"`
	DiskPressureBytes      int64         `yaml:"disk_pressure_bytes" env:"RENDERD_DISK_PRESSURE_BYTES"`
	WebhookRetries         int           `yaml:"webhook_retries" env:"RENDERD_WEBHOOK_RETRIES"`
	WebhookTimeout         time.Duration `yaml:"webhook_timeout" env:"RENDERD_WEBHOOK_TIMEOUT"`
}

// RenderConfig governs engine execution and asset resolution.
type RenderConfig struct {
	FFmpegBin       string        `yaml:"ffmpeg_bin" env:"RENDERD_FFMPEG_BIN"`
	FFprobeBin      string        `yaml:"ffprobe_bin" env:"RENDERD_FFPROBE_BIN"`
	EncodeTimeout   time.Duration `yaml:"encode_timeout" env:"RENDERD_ENCODE_TIMEOUT"`
	DownloadTimeout time.Duration `yaml:"download_timeout" env:"RENDERD_DOWNLOAD_TIMEOUT"`
	MaxAssetBytes   int64         `yaml:"max_asset_bytes" env:"RENDERD_MAX_ASSET_BYTES"`
	LocalAssetDir   string        `yaml:"local_asset_dir" env:"RENDERD_LOCAL_ASSET_DIR"`
	TemplateDir     string        `yaml:"template_dir" env:"RENDERD_TEMPLATE_DIR"`
	PublishDir      string        `yaml:"publish_dir" env:"RENDERD_PUBLISH_DIR"`
	PublishBaseURL  string        `yaml:"publish_base_url" env:"RENDERD_PUBLISH_BASE_URL"`
}

// ProviderConfig names one narration provider endpoint. Providers are tried
// in list order, each at most once per job.
type ProviderConfig struct {
	Name  string `yaml:"name"`
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	Voice string `yaml:"voice"`
}

// NarrationConfig holds the ordered narration provider chain and the stock
// search endpoint.
type NarrationConfig struct {
	Providers      []ProviderConfig `yaml:"providers"`
	StockSearchURL string           `yaml:"stock_search_url" env:"RENDERD_STOCK_SEARCH_URL"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" env:"RENDERD_LOG_LEVEL"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			EnableCORS:   true,
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "./data/renderd.db",
			Host: "localhost",
			Port: 5432,
		},
		Jobs: JobsConfig{
			WorkDir:                "./data/jobs",
			CompositionConcurrency: 1,
			AssemblyConcurrency:    2,
			CleanupInterval:        15 * time.Minute,
			RetentionAge:           24 * time.Hour,
			RetentionAgePressured:  6 * time.Hour,
			DiskPressureBytes:      20 << 30, // 20 GB of job workdirs triggers the short retention age
			WebhookRetries:         3,
			WebhookTimeout:         10 * time.Second,
		},
		Render: RenderConfig{
			FFmpegBin:       "ffmpeg",
			FFprobeBin:      "ffprobe",
			EncodeTimeout:   600 * time.Second,
			DownloadTimeout: 60 * time.Second,
			MaxAssetBytes:   500 << 20, // 500 MB
			LocalAssetDir:   "./data/assets",
			TemplateDir:     "./data/templates",
			PublishDir:      "./data/output",
			PublishBaseURL:  "",
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if it exists), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	if err := applyEnv(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Type != "sqlite" && c.Database.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}
	if c.Jobs.CompositionConcurrency < 1 || c.Jobs.AssemblyConcurrency < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if c.Jobs.RetentionAgePressured > c.Jobs.RetentionAge {
		return fmt.Errorf("pressured retention age must not exceed the normal retention age")
	}
	if c.Render.EncodeTimeout <= 0 {
		return fmt.Errorf("encode timeout must be positive")
	}
	return nil
}

// applyEnv walks the config struct and overrides any field whose `env` tag
// names a set environment variable.
func applyEnv(v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := applyEnv(field); err != nil {
				return err
			}
			continue
		}
		envName := t.Field(i).Tag.Get("env")
		if envName == "" {
			continue
		}
		raw, ok := os.LookupEnv(envName)
		if !ok || raw == "" {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("%s: %w", envName, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(raw, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}
