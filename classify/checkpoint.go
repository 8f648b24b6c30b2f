package classify

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// keySep joins composite key columns into one resume-set entry. It cannot
// occur in CSV field content that round-trips through encoding/csv, so the
// join is unambiguous.
const keySep = "\x1f"

// Checkpoint is an append-only CSV store with a resume-key set built from
// the rows already on disk. It is the scan-then-append half of the
// checkpointed classifier: at most one row per key ever exists, rows are
// flushed as they are appended, and existing rows are never touched.
//
// Checkpoint is not safe for concurrent use; the runner serializes all
// Seen/Append calls through its single writer loop.
type Checkpoint struct {
	path    string
	header  []string
	keyCols int
	seen    map[string]struct{}

	f *os.File
	w *csv.Writer
}

// OpenCheckpoint opens (or creates) the output file. The first keyCols
// columns of header form the resume key. An existing file must start with
// the same header; its rows seed the resume set. A fresh file gets the
// header written before any rows.
func OpenCheckpoint(path string, header []string, keyCols int) (*Checkpoint, error) {
	if path == "" {
		return nil, errors.New("OpenCheckpoint: path is empty")
	}
	if keyCols <= 0 || keyCols > len(header) {
		return nil, fmt.Errorf("OpenCheckpoint: keyCols %d out of range for %d columns", keyCols, len(header))
	}

	cp := &Checkpoint{
		path:    path,
		header:  append([]string(nil), header...),
		keyCols: keyCols,
		seen:    make(map[string]struct{}),
	}

	fresh := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fresh = true
	} else if err != nil {
		return nil, fmt.Errorf("OpenCheckpoint: stat: %w", err)
	}

	if !fresh {
		if err := cp.loadExisting(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("OpenCheckpoint: mkdir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("OpenCheckpoint: open: %w", err)
	}
	cp.f = f
	cp.w = csv.NewWriter(f)

	if fresh {
		if err := cp.w.Write(cp.header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("OpenCheckpoint: write header: %w", err)
		}
		cp.w.Flush()
		if err := cp.w.Error(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("OpenCheckpoint: flush header: %w", err)
		}
	}
	return cp, nil
}

func (cp *Checkpoint) loadExisting() error {
	f, err := os.Open(cp.path)
	if err != nil {
		return fmt.Errorf("OpenCheckpoint: read existing: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(cp.header)
	rows, err := r.ReadAll()
	if err != nil {
		return fmt.Errorf("OpenCheckpoint: parse existing: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	if strings.Join(rows[0], ",") != strings.Join(cp.header, ",") {
		return fmt.Errorf("OpenCheckpoint: header mismatch in %s", cp.path)
	}
	for _, row := range rows[1:] {
		cp.seen[joinKey(row[:cp.keyCols])] = struct{}{}
	}
	return nil
}

// Seen reports whether a row with this key is already on disk.
func (cp *Checkpoint) Seen(key []string) bool {
	_, ok := cp.seen[joinKey(key)]
	return ok
}

// Done returns how many keys are already persisted.
func (cp *Checkpoint) Done() int {
	return len(cp.seen)
}

// Append writes one row and flushes it to disk immediately, so a crash
// leaves exactly the appended rows behind. A row whose key is already
// present is rejected rather than duplicated.
func (cp *Checkpoint) Append(row []string) error {
	if len(row) != len(cp.header) {
		return fmt.Errorf("checkpoint append: %d columns, want %d", len(row), len(cp.header))
	}
	key := joinKey(row[:cp.keyCols])
	if _, ok := cp.seen[key]; ok {
		return fmt.Errorf("checkpoint append: duplicate key %q", key)
	}
	if err := cp.w.Write(row); err != nil {
		return fmt.Errorf("checkpoint append: %w", err)
	}
	cp.w.Flush()
	if err := cp.w.Error(); err != nil {
		return fmt.Errorf("checkpoint flush: %w", err)
	}
	cp.seen[key] = struct{}{}
	return nil
}

// Close flushes and closes the underlying file.
func (cp *Checkpoint) Close() error {
	if cp.f == nil {
		return nil
	}
	cp.w.Flush()
	if err := cp.w.Error(); err != nil {
		_ = cp.f.Close()
		return err
	}
	return cp.f.Close()
}

func joinKey(cols []string) string {
	return strings.Join(cols, keySep)
}
