/*
Package config loads server configuration.

SOURCES (later wins):
  1. Defaults below
  2. YAML file (optional; -config flag or ./config.yaml)
  3. .env file in the working directory (optional)
  4. Environment: CASHBOOK_<SECTION>_<KEY>, e.g. CASHBOOK_DATABASE_DRIVER

KEYS:
  server.port                 HTTP port (8080)
  server.cors_origins         allowed origins, comma-separated in env
  database.driver             sqlite | postgres
  database.dsn                file path for sqlite, URL for postgres
  log.level, log.format       zap level; json | console
  store.max_retries           retries for transient lock conflicts (3)
  monitor.enabled             run the low-stock monitor (true)
  monitor.low_stock_interval  how often it checks (15m)
*/
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type ServerConfig struct {
	Port        int      `mapstructure:"port"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type StoreConfig struct {
	MaxRetries uint64 `mapstructure:"max_retries"`
}

type MonitorConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	LowStockInterval time.Duration `mapstructure:"low_stock_interval"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "cashbook.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("store.max_retries", 3)
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.low_stock_interval", 15*time.Minute)
}

// Load reads configuration from path. An empty path looks for an optional
// config.yaml in the working directory; a non-empty path must exist.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CASHBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Monitor.Enabled && c.Monitor.LowStockInterval <= 0 {
		return errors.New("monitor.low_stock_interval must be positive")
	}
	return nil
}
