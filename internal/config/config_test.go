package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockfeed-service/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HTTP_PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BUFFER_FLUSH_INTERVAL", "")
	t.Setenv("FEED_QUEUE_CAPACITY", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Contains(t, cfg.Database.PostgresURL, "postgres://")
	assert.Equal(t, 3*time.Second, cfg.Ingestion.FlushInterval)
	assert.Equal(t, 10000, cfg.Ingestion.QueueCapacity)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/ticks?sslmode=disable")
	t.Setenv("BUFFER_FLUSH_INTERVAL", "5")
	t.Setenv("FEED_QUEUE_CAPACITY", "500")
	t.Setenv("KOTAK_UCC", "AB1234")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "postgres://user:pass@db:5432/ticks?sslmode=disable", cfg.Database.PostgresURL)
	assert.Equal(t, 5*time.Second, cfg.Ingestion.FlushInterval)
	assert.Equal(t, 500, cfg.Ingestion.QueueCapacity)
	assert.Equal(t, "AB1234", cfg.Feed.UCC)
}

func TestLoadIgnoresUnparsableInt(t *testing.T) {
	t.Setenv("BUFFER_FLUSH_INTERVAL", "often")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.Ingestion.FlushInterval)
}

func TestValidate(t *testing.T) {
	cfg := &config.Config{}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}
