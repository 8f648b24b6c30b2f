package collect

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
)

// SampleHeader is the stable column order of the persisted sample file.
var SampleHeader = []string{"id", "body", "score", "createdAt", "parentId", "threadId", "isTopRoot", "rootId"}

// SampleWriter appends sample records to a CSV file, writing the header once
// when the file is created. It remembers which threads already have rows, in
// the file and across this run, so re-runs append only missing threads. It is
// not safe for concurrent use; callers that collect threads in parallel must
// funnel records through a single writer.
type SampleWriter struct {
	f       *os.File
	w       *csv.Writer
	threads map[string]struct{}
}

// OpenSampleWriter opens (or creates) the sample file for appending. A fresh
// file gets the header row before any records; an existing file seeds the
// thread resume set from its rows.
func OpenSampleWriter(path string) (*SampleWriter, error) {
	if path == "" {
		return nil, errors.New("OpenSampleWriter: path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("OpenSampleWriter: mkdir: %w", err)
	}

	fresh := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		fresh = true
	} else if err != nil {
		return nil, fmt.Errorf("OpenSampleWriter: stat: %w", err)
	}

	threads := map[string]struct{}{}
	if !fresh {
		existing, err := ReadSampleFile(path)
		if err != nil {
			return nil, fmt.Errorf("OpenSampleWriter: seed resume set: %w", err)
		}
		for _, rec := range existing {
			threads[NormalizeID(rec.ThreadID)] = struct{}{}
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("OpenSampleWriter: open: %w", err)
	}
	sw := &SampleWriter{f: f, w: csv.NewWriter(f), threads: threads}
	if fresh {
		if err := sw.w.Write(SampleHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("OpenSampleWriter: write header: %w", err)
		}
		sw.w.Flush()
		if err := sw.w.Error(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("OpenSampleWriter: flush header: %w", err)
		}
	}
	return sw, nil
}

// Append writes records and flushes them to disk before returning, so an
// interrupted run leaves only whole rows behind.
func (sw *SampleWriter) Append(records []SampleRecord) error {
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Body,
			strconv.Itoa(rec.Score),
			strconv.FormatInt(rec.CreatedAt, 10),
			rec.ParentID,
			rec.ThreadID,
			strconv.FormatBool(rec.IsTopRoot),
			rec.RootID,
		}
		if err := sw.w.Write(row); err != nil {
			return fmt.Errorf("sample append: %w", err)
		}
		sw.threads[NormalizeID(rec.ThreadID)] = struct{}{}
	}
	sw.w.Flush()
	if err := sw.w.Error(); err != nil {
		return fmt.Errorf("sample flush: %w", err)
	}
	return nil
}

// HasThread reports whether the file already holds rows for the thread.
// Prefix variants of the same ID compare equal.
func (sw *SampleWriter) HasThread(threadID string) bool {
	_, ok := sw.threads[NormalizeID(threadID)]
	return ok
}

// Close flushes and closes the underlying file.
func (sw *SampleWriter) Close() error {
	sw.w.Flush()
	if err := sw.w.Error(); err != nil {
		_ = sw.f.Close()
		return err
	}
	return sw.f.Close()
}

// ReadSampleFile loads a previously written sample file. Rows with the wrong
// column count are rejected; numeric fields that fail to parse default to
// zero, mirroring the lenient decode used at fetch time.
func ReadSampleFile(path string) ([]SampleRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ReadSampleFile: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(SampleHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ReadSampleFile: parse: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var out []SampleRecord
	for i, row := range rows {
		if i == 0 && row[0] == SampleHeader[0] {
			continue
		}
		score, _ := strconv.Atoi(row[2])
		created, _ := strconv.ParseInt(row[3], 10, 64)
		isRoot, _ := strconv.ParseBool(row[6])
		out = append(out, SampleRecord{
			RawReply: RawReply{
				ID:        row[0],
				Body:      row[1],
				Score:     score,
				CreatedAt: created,
				ParentID:  row[4],
				ThreadID:  row[5],
			},
			IsTopRoot: isRoot,
			RootID:    row[7],
		})
	}
	return out, nil
}
