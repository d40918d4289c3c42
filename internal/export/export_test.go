package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONLExporter(t *testing.T) {
	t.Run("Should write one object per line in order", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "exports", "jsonl", "analyses.jsonl")
		records := []map[string]any{
			{"code_station": "04001000", "resultat": 12.5},
			{"code_station": "04001000", "resultat": 13.0, "libelle": "Nitrates <NO3>"},
		}

		n, err := JSONLExporter{}.Export(records, path)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		body, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(string(body)), "\n")
		require.Len(t, lines, 2)
		assert.JSONEq(t, `{"code_station":"04001000","resultat":12.5}`, lines[0])
		assert.Contains(t, lines[1], "<NO3>")

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Should write nothing for empty input", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "empty.jsonl")
		n, err := JSONLExporter{}.Export(nil, path)
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = os.Stat(filepath.Dir(path))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestJSONLAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "obs.jsonl")
	exp := JSONLExporter{}

	_, err := exp.Export([]map[string]any{{"day": 1}}, path)
	require.NoError(t, err)
	n, err := exp.Append([]map[string]any{{"day": 2}, {"day": 3}}, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = exp.Append(nil, path)
	require.NoError(t, err)
	assert.Zero(t, n)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"day\":1}\n{\"day\":2}\n{\"day\":3}\n", string(body))
}

func TestMerge(t *testing.T) {
	t.Run("Should concatenate yearly files and skip the destination", func(t *testing.T) {
		dir := t.TempDir()
		write := func(name, body string) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
		}
		write("nappes_1340_2016.jsonl", "{\"y\":2016}\n")
		write("nappes_1340_2015.jsonl", "{\"y\":2015}\n{\"y\":2015.5}\n\n")
		write("nappes_1340_all.jsonl", "{\"stale\":true}\n")

		dest := filepath.Join(dir, "nappes_1340_all.jsonl")
		n, err := Merge(filepath.Join(dir, "nappes_1340_*.jsonl"), dest)
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		body, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, "{\"y\":2015}\n{\"y\":2015.5}\n{\"y\":2016}\n", string(body))
	})

	t.Run("Should do nothing when no file matches", func(t *testing.T) {
		dir := t.TempDir()
		n, err := Merge(filepath.Join(dir, "*.jsonl"), filepath.Join(dir, "all.jsonl"))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
