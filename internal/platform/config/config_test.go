package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.Engine.LivenessThreshold)
	assert.Equal(t, 0.5, cfg.Engine.VoiceConfidenceThreshold)
	assert.Equal(t, 10*time.Second, cfg.Providers.Timeout)
	assert.Equal(t, 5*time.Second, cfg.IdentitySync.Timeout)
	assert.Equal(t, int64(50<<20), cfg.Evidence.VideoMaxBytes)
}

func TestFromEnv(t *testing.T) {
	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("EKYC_CONFIG_FILE", "")
		t.Setenv("LIVENESS_THRESHOLD", "0.7")
		t.Setenv("STORE_BACKEND", "POSTGRES")
		t.Setenv("POSTGRES_DSN", "postgres://localhost/ekyc")
		t.Setenv("POSTGRES_AUTO_MIGRATE", "true")
		t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 0.7, cfg.Engine.LivenessThreshold)
		assert.Equal(t, StorePostgres, cfg.Store.Backend)
		assert.True(t, cfg.Postgres.AutoMigrate)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	})

	t.Run("yaml file is layered under the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ekyc.yaml")
		body := "engine:\n  liveness_threshold: 0.6\n  voice_confidence_threshold: 0.8\nproviders:\n  timeout: 3s\n"
		require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
		t.Setenv("EKYC_CONFIG_FILE", path)
		t.Setenv("VOICE_CONFIDENCE_THRESHOLD", "0.9")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, 0.6, cfg.Engine.LivenessThreshold)
		assert.Equal(t, 0.9, cfg.Engine.VoiceConfidenceThreshold)
		assert.Equal(t, 3*time.Second, cfg.Providers.Timeout)
		assert.Equal(t, 365*24*time.Hour, cfg.Engine.RecordValidity, "unset keys keep defaults")
	})

	t.Run("malformed values are reported", func(t *testing.T) {
		t.Setenv("EKYC_CONFIG_FILE", "")
		t.Setenv("PROVIDER_TIMEOUT", "soon")
		_, err := FromEnv()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PROVIDER_TIMEOUT")
	})

	t.Run("missing config file is an error", func(t *testing.T) {
		t.Setenv("EKYC_CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := FromEnv()
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.Engine.LivenessThreshold = 1.5 }, "liveness_threshold"},
		{"negative voice threshold", func(c *Config) { c.Engine.VoiceConfidenceThreshold = -0.1 }, "voice_confidence_threshold"},
		{"postgres without dsn", func(c *Config) { c.Store.Backend = StorePostgres }, "postgres.dsn"},
		{"redis without url", func(c *Config) { c.Store.Backend = StoreRedis }, "redis.url"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "mongo" }, "not supported"},
		{"zero image limit", func(c *Config) { c.Evidence.ImageMaxBytes = 0 }, "size limits"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
