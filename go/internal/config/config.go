// Package config loads settings shared by the wall, gateway and admin binaries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/wallstreetbar/go/clients"
	"github.com/mcdev12/wallstreetbar/go/internal/dbconfig"
	"github.com/mcdev12/wallstreetbar/go/internal/sharedstore"
)

// Duration decodes "10s"-style strings from both YAML and TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	API     APIConfig     `yaml:"api" toml:"api"`
	Store   StoreConfig   `yaml:"store" toml:"store"`
	Log     LogConfig     `yaml:"log" toml:"log"`
	Gateway GatewayConfig `yaml:"gateway" toml:"gateway"`
	Admin   AdminConfig   `yaml:"admin" toml:"admin"`
	Wall    WallConfig    `yaml:"wall" toml:"wall"`
}

type APIConfig struct {
	BaseURL    string   `yaml:"base_url" toml:"base_url"`
	MaxRetries int      `yaml:"max_retries" toml:"max_retries"`
	RetryDelay Duration `yaml:"retry_delay" toml:"retry_delay"`
	Timeout    Duration `yaml:"timeout" toml:"timeout"`
}

type StoreConfig struct {
	Driver             string   `yaml:"driver" toml:"driver"`
	NATSURL            string   `yaml:"nats_url" toml:"nats_url"`
	NATSBucket         string   `yaml:"nats_bucket" toml:"nats_bucket"`
	PostgresDSN        string   `yaml:"postgres_dsn" toml:"postgres_dsn"`
	SQLitePath         string   `yaml:"sqlite_path" toml:"sqlite_path"`
	SQLitePollInterval Duration `yaml:"sqlite_poll_interval" toml:"sqlite_poll_interval"`
}

type LogConfig struct {
	Level   string `yaml:"level" toml:"level"`
	File    string `yaml:"file" toml:"file"`
	Console bool   `yaml:"console" toml:"console"`
}

type GatewayConfig struct {
	Addr           string   `yaml:"addr" toml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// WallConfig configures the wall process. An empty MetricsAddr disables /metrics.
type WallConfig struct {
	MetricsAddr string `yaml:"metrics_addr" toml:"metrics_addr"`
}

type AdminConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// Default returns the configuration used when no file or environment is present.
func Default() Config {
	retry := clients.DefaultRetryConfig()
	sqlite := sharedstore.DefaultSQLiteConfig()
	nats := sharedstore.DefaultNATSConfig()
	return Config{
		API: APIConfig{
			BaseURL:    "http://localhost:8000",
			MaxRetries: retry.MaxRetries,
			RetryDelay: Duration{retry.RetryDelay},
			Timeout:    Duration{retry.Timeout},
		},
		Store: StoreConfig{
			Driver:             sharedstore.DriverMemory,
			NATSURL:            nats.URL,
			NATSBucket:         nats.Bucket,
			SQLitePath:         sqlite.Path,
			SQLitePollInterval: Duration{sqlite.PollInterval},
		},
		Log: LogConfig{
			Level:   "info",
			Console: true,
		},
		Gateway: GatewayConfig{
			Addr:           ":8081",
			AllowedOrigins: []string{"*"},
		},
	}
}

// Load reads a YAML or TOML file (chosen by extension) over the defaults and
// then applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := decode(path, data, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.API.BaseURL = getEnv("WSB_API_BASE_URL", cfg.API.BaseURL)
	cfg.API.MaxRetries = getEnvAsInt("WSB_API_MAX_RETRIES", cfg.API.MaxRetries)

	cfg.Store.Driver = getEnv("WSB_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.NATSURL = getEnv("NATS_URL", cfg.Store.NATSURL)
	cfg.Store.NATSBucket = getEnv("WSB_NATS_BUCKET", cfg.Store.NATSBucket)
	cfg.Store.PostgresDSN = getEnv("WSB_POSTGRES_DSN", cfg.Store.PostgresDSN)
	cfg.Store.SQLitePath = getEnv("WSB_SQLITE_PATH", cfg.Store.SQLitePath)

	cfg.Log.Level = getEnv("WSB_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("WSB_LOG_FILE", cfg.Log.File)

	if port := os.Getenv("GATEWAY_PORT"); port != "" {
		cfg.Gateway.Addr = ":" + port
	}

	cfg.Admin.Username = getEnv("WSB_ADMIN_USER", cfg.Admin.Username)
	cfg.Admin.Password = getEnv("WSB_ADMIN_PASSWORD", cfg.Admin.Password)

	cfg.Wall.MetricsAddr = getEnv("WSB_WALL_METRICS_ADDR", cfg.Wall.MetricsAddr)
}

func (c Config) Validate() error {
	switch c.Store.Driver {
	case sharedstore.DriverMemory, sharedstore.DriverNATS, sharedstore.DriverPostgres, sharedstore.DriverSQLite:
	default:
		return fmt.Errorf("%w: %q", sharedstore.ErrUnknownDriver, c.Store.Driver)
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must be >= 0, got %d", c.API.MaxRetries)
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	return nil
}

// Retry converts the API section into the client retry policy.
func (c Config) Retry() clients.RetryConfig {
	return clients.RetryConfig{
		MaxRetries: c.API.MaxRetries,
		RetryDelay: c.API.RetryDelay.Duration,
		Timeout:    c.API.Timeout.Duration,
	}
}

// SharedStore converts the store section into backend settings. Without an
// explicit DSN the Postgres backend falls back to STORE_DB_* variables.
func (c Config) SharedStore() sharedstore.Config {
	out := sharedstore.DefaultConfig()
	out.Driver = c.Store.Driver
	out.NATS.URL = c.Store.NATSURL
	out.NATS.Bucket = c.Store.NATSBucket
	out.SQLite.Path = c.Store.SQLitePath
	if c.Store.SQLitePollInterval.Duration > 0 {
		out.SQLite.PollInterval = c.Store.SQLitePollInterval.Duration
	}
	out.Postgres.DatabaseURL = c.Store.PostgresDSN
	if out.Postgres.DatabaseURL == "" {
		out.Postgres.DatabaseURL = dbconfig.NewConfigFromEnv().DSN()
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
