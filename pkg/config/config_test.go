package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAddr, cfg.Addr)
	assert.Equal(t, BackendBadger, cfg.StorageBackend)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, int64(DefaultMaxMemoryMB), cfg.MaxMemoryMB)
	assert.Equal(t, 30, cfg.DataExpiryDays)
	assert.Equal(t, 24*time.Hour, cfg.RetentionInterval)
	assert.Equal(t, DefaultKafkaTopic, cfg.KafkaTopic)
	assert.Equal(t, []string{"*"}, cfg.CORSOriginList())
	assert.Empty(t, cfg.KafkaBrokerList())
	assert.Equal(t, 30*24*time.Hour, cfg.DataExpiry())
	assert.Equal(t, int64(1<<30), cfg.MaxStorageBytes())
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("DEVICEPULSE_ADDR", ":9000")
	t.Setenv("DEVICEPULSE_STORAGE_BACKEND", "memory")
	t.Setenv("DEVICEPULSE_DATA_EXPIRY_DAYS", "7")
	t.Setenv("DEVICEPULSE_RETENTION_INTERVAL", "1h")
	t.Setenv("DEVICEPULSE_MAX_MEMORY_MB", "64")
	t.Setenv("DEVICEPULSE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 7, cfg.DataExpiryDays)
	assert.Equal(t, time.Hour, cfg.RetentionInterval)
	assert.Equal(t, int64(64), cfg.MaxMemoryMB)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokerList())
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	t.Setenv("DEVICEPULSE_ADDR", ":9000")

	cfg, err := Load([]string{"--addr", ":7000", "--storage", "memory"})
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devicepulse.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ADDR: \":8100\"\nDATA_EXPIRY_DAYS: 14\n"), 0o644))

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, ":8100", cfg.Addr)
	assert.Equal(t, 14, cfg.DataExpiryDays)

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"DEVICEPULSE_STORAGE_BACKEND": "postgres"}},
		{"unknown backend", map[string]string{"DEVICEPULSE_STORAGE_BACKEND": "sqlite"}},
		{"zero expiry", map[string]string{"DEVICEPULSE_DATA_EXPIRY_DAYS": "0"}},
		{"negative storage", map[string]string{"DEVICEPULSE_MAX_STORAGE_GB": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(nil)
			assert.Error(t, err)
		})
	}
}

func TestLoad_PostgresWithDSN(t *testing.T) {
	t.Setenv("DEVICEPULSE_STORAGE_BACKEND", "postgres")
	t.Setenv("DEVICEPULSE_DATABASE_URL", "postgres://localhost/devicepulse")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/devicepulse", cfg.DatabaseURL)
}

func TestLoad_Help(t *testing.T) {
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}
