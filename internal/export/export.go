// Package export writes harvested records to files.
package export

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

// Exporter writes an ordered set of records to path and returns how many it wrote.
// Append adds to an existing file, which a resumed run needs when earlier
// pages were already exported.
type Exporter interface {
	Export(records []map[string]any, path string) (int, error)
	Append(records []map[string]any, path string) (int, error)
	Ext() string
}

// JSONLExporter writes one JSON object per line
type JSONLExporter struct{}

func (JSONLExporter) Ext() string { return ".jsonl" }

// Export replaces path with the records. Empty input logs a warning and
// leaves the filesystem untouched.
func (JSONLExporter) Export(records []map[string]any, path string) (int, error) {
	if len(records) == 0 {
		log.Warn().Str("output_path", path).Msg("No data to export")
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	n, err := writeAtomic(path, func(w *bufio.Writer) (int, error) {
		if err := encodeAll(w, records); err != nil {
			return 0, err
		}
		return len(records), nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("output_path", path).Int("rows", n).Msg("Data exported")
	return n, nil
}

// Append adds records to the end of path, creating it if needed
func (JSONLExporter) Append(records []map[string]any, path string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := encodeAll(w, records); err != nil {
		return 0, err
	}
	if err := w.Flush(); err != nil {
		return 0, err
	}

	log.Info().Str("output_path", path).Int("rows", len(records)).Msg("Data appended")
	return len(records), nil
}

func encodeAll(w *bufio.Writer, records []map[string]any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return nil
}

// Merge concatenates every JSONL file matching pattern (sorted by name) into
// dest. dest itself is never read even when the pattern matches it.
func Merge(pattern, dest string) (int, error) {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	sort.Strings(files)

	inputs := files[:0]
	for _, f := range files {
		if filepath.Clean(f) != filepath.Clean(dest) {
			inputs = append(inputs, f)
		}
	}
	if len(inputs) == 0 {
		log.Warn().Str("pattern", pattern).Msg("No files found")
		return 0, nil
	}

	log.Info().Str("pattern", pattern).Int("count", len(inputs)).Msg("Merging files")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, err
	}

	total, err := writeAtomic(dest, func(w *bufio.Writer) (int, error) {
		total := 0
		for _, f := range inputs {
			n, err := copyLines(w, f)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("output", dest).Int("records", total).Msg("Merge complete")
	return total, nil
}

func copyLines(w *bufio.Writer, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if _, err := w.Write(line); err != nil {
			return n, err
		}
		if err := w.WriteByte('\n'); err != nil {
			return n, err
		}
		n++
	}
	if err := sc.Err(); err != nil {
		return n, fmt.Errorf("read %s: %w", path, err)
	}
	return n, nil
}

// writeAtomic writes through a temp file renamed over path on success
func writeAtomic(path string, fill func(w *bufio.Writer) (int, error)) (int, error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}

	w := bufio.NewWriter(f)
	n, err := fill(w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, nil
}
