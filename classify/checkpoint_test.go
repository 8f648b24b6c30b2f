package classify

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testHeader = []string{"id", "label", "confidence", "rationale"}

func TestOpenCheckpoint_FreshFileGetsHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	cp, err := OpenCheckpoint(path, testHeader, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := cp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != "id,label,confidence,rationale" {
		t.Fatalf("content=%q", got)
	}
}

func TestCheckpoint_ResumeSetFromExistingRows(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")

	cp, err := OpenCheckpoint(path, testHeader, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := cp.Append([]string{"a", "neutral", "0.9000", "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := cp.Append([]string{"b", "off_topic", "0.5000", "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := cp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	cp2, err := OpenCheckpoint(path, testHeader, 1)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer cp2.Close()

	if cp2.Done() != 2 {
		t.Fatalf("Done()=%d, want 2", cp2.Done())
	}
	if !cp2.Seen([]string{"a"}) || !cp2.Seen([]string{"b"}) {
		t.Fatalf("resume set missing keys")
	}
	if cp2.Seen([]string{"c"}) {
		t.Fatalf("unexpected key c")
	}
}

func TestCheckpoint_RejectsDuplicateKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	cp, err := OpenCheckpoint(path, testHeader, 1)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer cp.Close()

	if err := cp.Append([]string{"a", "neutral", "0.9000", "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := cp.Append([]string{"a", "neutral", "0.1000", "other"}); err == nil {
		t.Fatalf("expected duplicate key rejection")
	}
}

func TestCheckpoint_HeaderMismatchFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	if err := os.WriteFile(path, []byte("x,y,z,w\n1,2,3,4\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := OpenCheckpoint(path, testHeader, 1); err == nil {
		t.Fatalf("expected header mismatch error")
	}
}

func TestCheckpoint_CompositeKey(t *testing.T) {
	t.Parallel()

	header := []string{"source", "target", "label", "confidence", "rationale"}
	path := filepath.Join(t.TempDir(), "out.csv")
	cp, err := OpenCheckpoint(path, header, 2)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := cp.Append([]string{"a", "b", "neutral", "0.5000", "r"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if !cp.Seen([]string{"a", "b"}) {
		t.Fatalf("composite key not seen")
	}
	if cp.Seen([]string{"a", "c"}) {
		t.Fatalf("different composite key reported seen")
	}
	if err := cp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
