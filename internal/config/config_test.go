package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "wesub", cfg.Database.DBName)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, 5672, cfg.Queue.Port)
	assert.Equal(t, "subtitle-exports", cfg.Storage.BucketName)

	assert.Equal(t, 30*time.Minute, cfg.Locks.TTL)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)

	assert.Equal(t, 5, cfg.Provider.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout)

	assert.Equal(t, 3, cfg.Workflow.AppendRetries)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  host: db.internal
  dbname: wesub_test

locks:
  ttl: 5m

logging:
  level: debug
  format: console

workflow:
  appendRetries: 7
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "wesub_test", cfg.Database.DBName)
	assert.Equal(t, 5*time.Minute, cfg.Locks.TTL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 7, cfg.Workflow.AppendRetries)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "guest", cfg.Queue.User)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}
