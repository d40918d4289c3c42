package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		cfg, err := Load(New())
		require.NoError(t, err)

		assert.Equal(t, "sqlite://metadata/state.db", cfg.DatabaseURL)
		assert.Equal(t, 45*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, 5, cfg.Retry.MaxAttempts)
		assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
		assert.Equal(t, 16*time.Second, cfg.Retry.MaxDelay)
		assert.Equal(t, 1.0, cfg.Rate.DefaultRPS)
		assert.Equal(t, 1000, cfg.Pagination.PageSize)
		assert.Equal(t, 20000, cfg.Pagination.MaxDepth)
		assert.Equal(t, "LB-RAG-Agent/1.0", cfg.UserAgent)
	})

	t.Run("Should read prefixed and legacy environment variables", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://harvest:secret@db:5432/harvest")
		t.Setenv("HARVEST_RETRY_MAX_ATTEMPTS", "3")
		t.Setenv("HARVEST_HTTP_TIMEOUT", "10s")

		cfg, err := Load(New())
		require.NoError(t, err)

		assert.Equal(t, "postgres://harvest:secret@db:5432/harvest", cfg.DatabaseURL)
		assert.Equal(t, 3, cfg.Retry.MaxAttempts)
		assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	})

	t.Run("Should let flags override the environment", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "warn")
		v := New()
		cmd := &cobra.Command{Use: "test"}
		require.NoError(t, BindFlags(v, cmd))
		require.NoError(t, cmd.PersistentFlags().Parse([]string{"--log-level", "debug", "--playbook", "pb.yaml"}))

		cfg, err := Load(v)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
		assert.Equal(t, "pb.yaml", cfg.Playbook)
		assert.Equal(t, "debug", cfg.DatabaseOptions().LogLevel)
	})

	t.Run("Should fail fast on invalid values", func(t *testing.T) {
		v := New()
		v.Set("retry.max_attempts", 0)
		v.Set("log_level", "loud")

		_, err := Load(v)
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "retry.max_attempts")
		assert.Contains(t, err.Error(), "loud")
	})

	t.Run("Should reject a default rate that cannot grant a request", func(t *testing.T) {
		v := New()
		v.Set("rate.default_rps", 0.5)

		_, err := Load(v)
		require.ErrorIs(t, err, ErrInvalidConfig)
		assert.Contains(t, err.Error(), "rate.default_rps")
	})

	t.Run("Should require a playbook", func(t *testing.T) {
		v := New()
		v.Set("playbook", "")

		_, err := Load(v)
		assert.ErrorIs(t, err, ErrMissingPlaybook)
	})
}

func TestLoadDotEnv(t *testing.T) {
	t.Run("Should ignore a missing file", func(t *testing.T) {
		assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")))
	})

	t.Run("Should export values from the file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), ".env")
		require.NoError(t, os.WriteFile(path, []byte("HARVEST_PAGINATION_PAGE_SIZE=250\n"), 0o644))
		t.Setenv("HARVEST_PAGINATION_PAGE_SIZE", "")
		require.NoError(t, os.Unsetenv("HARVEST_PAGINATION_PAGE_SIZE"))

		require.NoError(t, LoadDotEnv(path))

		cfg, err := Load(New())
		require.NoError(t, err)
		assert.Equal(t, 250, cfg.Pagination.PageSize)
	})
}
