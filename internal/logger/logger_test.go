package logger

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Run("Should write JSON lines tagged with the run id", func(t *testing.T) {
		saved := log.Logger
		defer func() { log.Logger = saved }()

		path := filepath.Join(t.TempDir(), "logs", "harvest_log.jsonl")
		closer, err := Init(Options{Level: "debug", File: path, RunID: "run-1"})
		require.NoError(t, err)

		taskLog := ForTask("t4")
		taskLog.Warn().Str("threshold_type", "max_records").Msg("Pagination limit reached")
		require.NoError(t, closer.Close())

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		scanner := bufio.NewScanner(f)
		require.True(t, scanner.Scan())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		assert.Equal(t, "run-1", entry["run_id"])
		assert.Equal(t, "t4", entry["task_id"])
		assert.Equal(t, "warn", entry["level"])
		assert.Equal(t, "max_records", entry["threshold_type"])
		assert.Equal(t, "Pagination limit reached", entry["message"])
	})

	t.Run("Should reject unknown levels", func(t *testing.T) {
		_, err := Init(Options{Level: "verbose"})
		assert.Error(t, err)
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"INFO":    zerolog.InfoLevel,
		"debug":   zerolog.DebugLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range tests {
		t.Run(in, func(t *testing.T) {
			got, err := ParseLevel(in)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}
