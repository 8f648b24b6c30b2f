package classify

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return rows
}

type record struct {
	id   string
	body string
}

func testVocab() Vocabulary {
	return Vocabulary{
		Labels:   []string{"supports_pressure", "opposes_pressure", "neutral", "off_topic"},
		Fallback: "unclassified",
	}
}

// countingService records which keys were sent to the external service.
type countingService struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string]Result
	errs    map[string]error
}

func newCountingService() *countingService {
	return &countingService{
		calls:   map[string]int{},
		results: map[string]Result{},
		errs:    map[string]error{},
	}
}

func (s *countingService) classify(_ context.Context, r record) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[r.id]++
	if err := s.errs[r.id]; err != nil {
		return Result{}, err
	}
	if res, ok := s.results[r.id]; ok {
		return res, nil
	}
	return Result{Label: "neutral", Confidence: 0.8, Rationale: "default"}, nil
}

func (s *countingService) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func keyFunc(r record) []string { return []string{r.id} }

func newTestRunner(svc *countingService, workers int) *Runner[record] {
	return NewRunner(keyFunc, svc.classify, testVocab(), Options{Workers: workers}, nil)
}

func runBatch(t *testing.T, r *Runner[record], path string, records []record) Stats {
	t.Helper()
	cp, err := OpenCheckpoint(path, []string{"id", "label", "confidence", "rationale"}, 1)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	defer cp.Close()
	stats, err := r.Run(context.Background(), records, cp)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return stats
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	records := []record{{id: "a"}, {id: "b"}, {id: "c"}}
	svc := newCountingService()

	stats := runBatch(t, newTestRunner(svc, 1), path, records)
	if stats.Processed != 3 || stats.Skipped != 0 {
		t.Fatalf("first run stats=%+v", stats)
	}
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	stats = runBatch(t, newTestRunner(svc, 1), path, records)
	if stats.Processed != 0 || stats.Skipped != 3 {
		t.Fatalf("second run stats=%+v", stats)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("output changed on re-run:\n%s\nvs\n%s", first, second)
	}
	for _, id := range []string{"a", "b", "c"} {
		if n := svc.callCount(id); n != 1 {
			t.Errorf("service called %d times for %s, want 1", n, id)
		}
	}
}

func TestRun_ResumesAfterPartialRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	all := []record{{id: "a"}, {id: "b"}, {id: "c"}, {id: "d"}, {id: "e"}}
	svc := newCountingService()

	// Simulate an interrupted run that completed only the first two.
	runBatch(t, newTestRunner(svc, 1), path, all[:2])

	stats := runBatch(t, newTestRunner(svc, 2), path, all)
	if stats.Skipped != 2 || stats.Processed != 3 {
		t.Fatalf("resume stats=%+v", stats)
	}
	for _, id := range []string{"a", "b"} {
		if n := svc.callCount(id); n != 1 {
			t.Errorf("completed key %s re-sent to service (%d calls)", id, n)
		}
	}

	rows := readRows(t, path)
	if len(rows) != 6 { // header + 5
		t.Fatalf("rows=%d, want 6", len(rows))
	}
	seen := map[string]int{}
	for _, row := range rows[1:] {
		seen[row[0]]++
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if seen[id] != 1 {
			t.Errorf("key %s appears %d times", id, seen[id])
		}
	}
}

func TestRun_ServiceErrorYieldsFallbackRow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	svc := newCountingService()
	svc.errs["b"] = errors.New("connection reset")

	stats := runBatch(t, newTestRunner(svc, 1), path, []record{{id: "a"}, {id: "b"}, {id: "c"}})
	if stats.Processed != 3 {
		t.Fatalf("stats=%+v", stats)
	}
	if stats.Fallbacks != 1 {
		t.Fatalf("fallbacks=%d, want 1", stats.Fallbacks)
	}

	rows := readRows(t, path)
	var bRow []string
	for _, row := range rows[1:] {
		if row[0] == "b" {
			bRow = row
		} else if row[1] == "unclassified" {
			t.Errorf("live row %s got fallback label", row[0])
		}
	}
	if bRow == nil {
		t.Fatalf("no row for failed record b")
	}
	if bRow[1] != "unclassified" {
		t.Fatalf("label=%q, want fallback", bRow[1])
	}
	if !strings.Contains(bRow[3], "connection reset") {
		t.Fatalf("rationale=%q, want error text", bRow[3])
	}
}

func TestRun_OutOfVocabularyLabelClamped(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	svc := newCountingService()
	svc.results["a"] = Result{Label: "strongly agree", Confidence: 0.99, Rationale: "sure"}
	svc.results["b"] = Result{Label: "Neutral", Confidence: 0.7, Rationale: "case differs"}

	runBatch(t, newTestRunner(svc, 1), path, []record{{id: "a"}, {id: "b"}})

	rows := readRows(t, path)
	for _, row := range rows[1:] {
		switch row[0] {
		case "a":
			if row[1] != "unclassified" {
				t.Errorf("a label=%q, want fallback", row[1])
			}
			if !strings.Contains(row[3], "outside vocabulary") {
				t.Errorf("a rationale=%q", row[3])
			}
		case "b":
			if row[1] != "neutral" {
				t.Errorf("b label=%q, want case-normalized neutral", row[1])
			}
		}
	}
}

func TestRun_ConcurrentWorkersSingleWriter(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	var records []record
	for i := 0; i < 40; i++ {
		records = append(records, record{id: string(rune('a'+i%26)) + string(rune('0'+i/26))})
	}
	svc := newCountingService()

	stats := runBatch(t, newTestRunner(svc, 8), path, records)
	if stats.Processed != 40 {
		t.Fatalf("processed=%d, want 40", stats.Processed)
	}

	rows := readRows(t, path)
	if len(rows) != 41 {
		t.Fatalf("rows=%d, want 41", len(rows))
	}
	seen := map[string]bool{}
	for _, row := range rows[1:] {
		if seen[row[0]] {
			t.Fatalf("duplicate key %s", row[0])
		}
		seen[row[0]] = true
	}
}

func TestRun_CanceledCallLeavesRecordForNextRun(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	svc := newCountingService()

	// The call for "b" cancels the run mid-flight, the way a SIGINT would
	// land while a request is on the wire.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	classify := func(callCtx context.Context, r record) (Result, error) {
		if r.id == "b" {
			cancel()
			<-callCtx.Done()
			return Result{}, callCtx.Err()
		}
		return svc.classify(callCtx, r)
	}
	runner := NewRunner(keyFunc, classify, testVocab(), Options{Workers: 1}, nil)

	cp, err := OpenCheckpoint(path, []string{"id", "label", "confidence", "rationale"}, 1)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	stats, err := runner.Run(ctx, []record{{id: "a"}, {id: "b"}}, cp)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
	if stats.Processed != 1 || stats.Dropped != 1 {
		t.Fatalf("stats=%+v", stats)
	}
	cp.Close()

	rows := readRows(t, path)
	for _, row := range rows[1:] {
		if row[0] == "b" {
			t.Fatalf("interrupted record persisted a row: %v", row)
		}
	}

	// The next invocation must still see "b" as pending and classify it.
	stats = runBatch(t, newTestRunner(svc, 1), path, []record{{id: "a"}, {id: "b"}, {id: "c"}})
	if stats.Skipped != 1 || stats.Processed != 2 {
		t.Fatalf("resume stats=%+v", stats)
	}
	if n := svc.callCount("b"); n != 1 {
		t.Fatalf("b called %d times after resume, want 1", n)
	}
	for _, row := range readRows(t, path)[1:] {
		if row[1] == "unclassified" {
			t.Fatalf("record %s carries a fallback label after resume", row[0])
		}
	}
}

func TestRun_CallTimeoutOnLiveRunYieldsFallbackRow(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	classify := func(callCtx context.Context, r record) (Result, error) {
		<-callCtx.Done()
		return Result{}, callCtx.Err()
	}
	runner := NewRunner(keyFunc, classify, testVocab(), Options{Workers: 1, CallTimeout: 10 * time.Millisecond}, nil)

	cp, err := OpenCheckpoint(path, []string{"id", "label", "confidence", "rationale"}, 1)
	if err != nil {
		t.Fatalf("open checkpoint: %v", err)
	}
	defer cp.Close()
	stats, err := runner.Run(context.Background(), []record{{id: "a"}}, cp)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Processed != 1 || stats.Fallbacks != 1 || stats.Dropped != 0 {
		t.Fatalf("stats=%+v", stats)
	}

	rows := readRows(t, path)
	if len(rows) != 2 || rows[1][1] != "unclassified" {
		t.Fatalf("rows=%v, want fallback row for a", rows)
	}
	if !strings.Contains(rows[1][3], "deadline exceeded") {
		t.Fatalf("rationale=%q, want timeout error text", rows[1][3])
	}
}

func TestRun_DuplicateInputKeysProcessedOnce(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	svc := newCountingService()

	stats := runBatch(t, newTestRunner(svc, 2), path, []record{{id: "a"}, {id: "a"}, {id: "b"}})
	if stats.Processed != 2 || stats.Skipped != 1 {
		t.Fatalf("stats=%+v", stats)
	}
	if n := svc.callCount("a"); n != 1 {
		t.Fatalf("a called %d times", n)
	}
}
