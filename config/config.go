package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Node      NodeConfig      `mapstructure:"node"`
	Lightning LightningConfig `mapstructure:"lightning"`
	Log       LogConfig       `mapstructure:"log"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// NodeConfig points at the Lightning node backend API.
type NodeConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// LightningConfig tunes the settlement engine and the invoice watcher.
type LightningConfig struct {
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
	// InflightGrace is the window during which a pending outbound payment
	// unknown to the backend is presumed to still be in flight in the
	// request path and must not be invalidated. Zero means derive it as
	// send_timeout + check_interval.
	InflightGrace time.Duration `mapstructure:"inflight_grace"`
	MaxFeePercent float64       `mapstructure:"max_fee_percent"`
	InvoiceExpiry time.Duration `mapstructure:"invoice_expiry"`
}

// EffectiveInflightGrace returns the configured grace window, or the
// derived default when unset.
func (l LightningConfig) EffectiveInflightGrace() time.Duration {
	if l.InflightGrace > 0 {
		return l.InflightGrace
	}
	return l.SendTimeout + l.CheckInterval
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: LNL (ln-ledger).
// Nested keys use underscore: LNL_DATABASE_HOST, LNL_NODE_API_KEY, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "ln_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("node.base_url", "http://localhost:23000")
	v.SetDefault("node.api_key", "")
	v.SetDefault("node.http_timeout", "30s")
	v.SetDefault("lightning.send_timeout", "21s")
	v.SetDefault("lightning.check_interval", "5s")
	v.SetDefault("lightning.inflight_grace", "0s")
	v.SetDefault("lightning.max_fee_percent", 3.0)
	v.SetDefault("lightning.invoice_expiry", "24h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: LNL_DATABASE_HOST -> database.host
	v.SetEnvPrefix("LNL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required — env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
