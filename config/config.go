/*
config.go - Runtime configuration

PURPOSE:
  Loads server configuration from file and environment. File settings
  come from leave-ledger.yaml in the working directory or /etc/leave-ledger;
  every key can be overridden with a LEAVE_ prefixed environment variable
  (LEAVE_HTTP_PORT, LEAVE_DB_PATH, ...).

DEFAULTS:
  Sensible out of the box: local SQLite file, port 8080, scheduler on.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime settings.
type Config struct {
	HTTP struct {
		Port        int      `mapstructure:"port"`
		CORSOrigins []string `mapstructure:"cors_origins"`
	} `mapstructure:"http"`

	DB struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"db"`

	Scheduler struct {
		Enabled  bool          `mapstructure:"enabled"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"scheduler"`

	Engine struct {
		AllowOverlap bool `mapstructure:"allow_overlap"`
	} `mapstructure:"engine"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Load reads configuration from file and environment. A missing config
// file is fine; defaults plus environment carry a dev setup.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})
	v.SetDefault("db.path", "leave-ledger.db")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Hour)
	v.SetDefault("engine.allow_overlap", false)
	v.SetDefault("log.level", "info")

	v.SetConfigName("leave-ledger")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/leave-ledger")

	v.SetEnvPrefix("LEAVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
