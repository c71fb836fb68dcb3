// Package config holds server defaults and loads runtime configuration from
// flags, DEVICEPULSE_* environment variables and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Server defaults
const (
	DefaultAddr         = ":8000"
	DefaultDataDir      = "./data/devicepulse"
	DefaultWebDir       = "./web"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Retention
const (
	DefaultDataExpiryDays    = 30
	DefaultRetentionInterval = 24 * time.Hour
	BadgerGCInterval         = 10 * time.Minute
)

// HTTP timeouts
const (
	ServerReadTimeout  = 10 * time.Second
	ServerWriteTimeout = 30 * time.Second
	ShutdownTimeout    = 30 * time.Second
	IngestTimeout      = 5 * time.Second
	QueryTimeout       = 30 * time.Second
)

// Request defaults and limits
const (
	DefaultWindowHours = 24
	MaxWindowHours     = 90 * 24
	DefaultRankLimit   = 10
	DefaultPageLimit   = 100
	MaxPageLimit       = 1000
)

// Device cardinality: distinct device IDs seen within DeviceIdleExpiry
const (
	MaxActiveDevices = 10000
	DeviceIdleExpiry = 24 * time.Hour
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 30 * 24 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)

// Kafka defaults
const (
	DefaultKafkaTopic   = "device-telemetry"
	DefaultKafkaGroupID = "devicepulse-ingest"
)

// Storage backends
const (
	BackendBadger   = "badger"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "DEVICEPULSE"

// Config is the resolved runtime configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `mapstructure:"ADDR"`
	// StorageBackend is one of badger, memory or postgres.
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	// DataDir holds badger files.
	DataDir string `mapstructure:"DATA_DIR"`
	// DatabaseURL is the Postgres DSN; required for the postgres backend.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// MaxMemoryMB bounds badger memtables and caches.
	MaxMemoryMB int64 `mapstructure:"MAX_MEMORY_MB"`
	// MaxStorageGB is the disk budget reported by /api/storage and enforced on ingest.
	MaxStorageGB int64 `mapstructure:"MAX_STORAGE_GB"`
	// DataExpiryDays is how long records are kept.
	DataExpiryDays int `mapstructure:"DATA_EXPIRY_DAYS"`
	// RetentionInterval is how often expired records are removed.
	RetentionInterval time.Duration `mapstructure:"RETENTION_INTERVAL"`
	// WebDir is the dashboard SPA build directory.
	WebDir string `mapstructure:"WEB_DIR"`
	// KafkaBrokers is a comma-separated broker list; empty disables the consumer.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string `mapstructure:"KAFKA_TOPIC"`
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// CORSOrigins is a comma-separated list of allowed origins, "*" for any.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
}

// Load resolves configuration. Precedence: flags, then environment, then
// the config file named by --config (or .env when present), then defaults.
// Returns pflag.ErrHelp when -h was given.
func Load(args []string) (*Config, error) {
	v := viper.New()

	fs := pflag.NewFlagSet("devicepulse", pflag.ContinueOnError)
	configFile := fs.String("config", "", "config file (env, yaml or json)")
	fs.String("addr", DefaultAddr, "HTTP listen address")
	fs.String("storage", BackendBadger, "storage backend: badger, memory or postgres")
	fs.String("data-dir", DefaultDataDir, "badger data directory")
	fs.String("database-url", "", "Postgres DSN for the postgres backend")
	fs.String("web-dir", DefaultWebDir, "dashboard static files")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	flagKeys := map[string]string{
		"addr":         "ADDR",
		"storage":      "STORAGE_BACKEND",
		"data-dir":     "DATA_DIR",
		"database-url": "DATABASE_URL",
		"web-dir":      "WEB_DIR",
	}
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("config: bind flag %s: %w", flag, err)
		}
	}

	if *configFile != "" {
		v.SetConfigFile(*configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", *configFile, err)
		}
	} else {
		v.SetConfigFile(".env")
		v.SetConfigType("env")
		_ = v.ReadInConfig() // a missing .env is fine
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	v.SetDefault("ADDR", DefaultAddr)
	v.SetDefault("STORAGE_BACKEND", BackendBadger)
	v.SetDefault("DATA_DIR", DefaultDataDir)
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("MAX_MEMORY_MB", DefaultMaxMemoryMB)
	v.SetDefault("MAX_STORAGE_GB", DefaultMaxStorageGB)
	v.SetDefault("DATA_EXPIRY_DAYS", DefaultDataExpiryDays)
	v.SetDefault("RETENTION_INTERVAL", DefaultRetentionInterval)
	v.SetDefault("WEB_DIR", DefaultWebDir)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", DefaultKafkaTopic)
	v.SetDefault("KAFKA_GROUP_ID", DefaultKafkaGroupID)
	v.SetDefault("CORS_ORIGINS", "*")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field combinations Load cannot express as defaults.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: ADDR must be set")
	}
	switch c.StorageBackend {
	case BackendBadger:
		if c.DataDir == "" {
			return errors.New("config: DATA_DIR must be set for the badger backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.DataExpiryDays <= 0 {
		return errors.New("config: DATA_EXPIRY_DAYS must be positive")
	}
	if c.RetentionInterval <= 0 {
		return errors.New("config: RETENTION_INTERVAL must be positive")
	}
	if c.MaxStorageGB < 0 || c.MaxMemoryMB < 0 {
		return errors.New("config: MAX_STORAGE_GB and MAX_MEMORY_MB must not be negative")
	}
	return nil
}

// DataExpiry returns the retention period.
func (c *Config) DataExpiry() time.Duration {
	return time.Duration(c.DataExpiryDays) * 24 * time.Hour
}

// MaxStorageBytes returns the disk budget in bytes.
func (c *Config) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

// KafkaBrokerList splits KafkaBrokers. An empty result disables the consumer.
func (c *Config) KafkaBrokerList() []string {
	return splitList(c.KafkaBrokers)
}

// CORSOriginList splits CORSOrigins.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
