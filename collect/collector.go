package collect

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// SearchClient fetches the full (capped) reply set for one thread. A failed
// fetch is retried only by running the collector again for that thread;
// there is no partial-fetch resume.
type SearchClient interface {
	SearchComments(ctx context.Context, threadID string) ([]RawReply, error)
}

// DefaultTopRoots is how many top-scored root replies are kept per thread.
const DefaultTopRoots = 5

// Collector turns thread IDs into stratified sample records.
type Collector struct {
	client SearchClient
	topK   int
	log    *zap.Logger
}

// NewCollector builds a collector. topK <= 0 falls back to DefaultTopRoots.
func NewCollector(client SearchClient, topK int, log *zap.Logger) *Collector {
	if topK <= 0 {
		topK = DefaultTopRoots
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Collector{client: client, topK: topK, log: log}
}

// ThreadStats reports per-thread structural diagnostics.
type ThreadStats struct {
	ThreadID   string
	Fetched    int
	Roots      int
	Emitted    int
	Orphans    int
	Collisions int
}

// CollectThread fetches one thread, reconstructs its reply tree, and emits
// the top-K sample. The tree is local to the call and discarded on return.
func (c *Collector) CollectThread(ctx context.Context, threadID string) ([]SampleRecord, ThreadStats, error) {
	replies, err := c.client.SearchComments(ctx, threadID)
	if err != nil {
		return nil, ThreadStats{ThreadID: threadID}, err
	}

	tree := BuildThreadTree(threadID, replies)
	records := EmitSample(tree, c.topK)

	stats := ThreadStats{
		ThreadID:   threadID,
		Fetched:    len(replies),
		Roots:      len(tree.Roots),
		Emitted:    len(records),
		Orphans:    tree.Orphans,
		Collisions: tree.Collisions,
	}
	if stats.Orphans > 0 || stats.Collisions > 0 {
		c.log.Warn("structural anomalies in thread",
			zap.String("thread_id", threadID),
			zap.Int("orphans", stats.Orphans),
			zap.Int("collisions", stats.Collisions))
	}
	return records, stats, nil
}

// RunStats aggregates a full collection run.
type RunStats struct {
	Threads        int
	SkippedThreads int // already present in the sample file before the run
	FailedThreads  int
	Samples        int
	Orphans        int
	Collisions     int
}

// Run collects every thread using up to workers concurrent fetchers and
// appends all emitted records through the single writer. Threads the sample
// file already holds rows for are skipped up front, so re-running over the
// same output never duplicates rows; a failed or rowless thread stays
// pending and is retried from scratch next run. A thread that fails to fetch
// or decode is logged and skipped; it never disturbs rows already written
// for other threads. Cancellation stops intake of new threads while letting
// in-flight appends complete.
func (c *Collector) Run(ctx context.Context, threadIDs []string, workers int, out *SampleWriter) (RunStats, error) {
	if out == nil {
		return RunStats{}, errors.New("collector: nil sample writer")
	}
	if workers <= 0 {
		workers = 1
	}

	var stats RunStats
	pending := make([]string, 0, len(threadIDs))
	for _, id := range threadIDs {
		if out.HasThread(id) {
			stats.SkippedThreads++
			c.log.Info("thread already collected, skipping",
				zap.String("thread_id", id))
			continue
		}
		pending = append(pending, id)
	}

	type result struct {
		records []SampleRecord
		stats   ThreadStats
		err     error
	}

	ids := make(chan string)
	results := make(chan result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range ids {
				records, stats, err := c.CollectThread(ctx, id)
				results <- result{records: records, stats: stats, err: err}
			}
		}()
	}

	go func() {
		defer close(ids)
		for _, id := range pending {
			select {
			case <-ctx.Done():
				return
			case ids <- id:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var writeErr error
	for res := range results {
		stats.Threads++
		if res.err != nil {
			stats.FailedThreads++
			c.log.Error("thread collection failed",
				zap.String("thread_id", res.stats.ThreadID),
				zap.Error(res.err))
			continue
		}
		stats.Samples += res.stats.Emitted
		stats.Orphans += res.stats.Orphans
		stats.Collisions += res.stats.Collisions

		if writeErr != nil {
			continue
		}
		if err := out.Append(res.records); err != nil {
			writeErr = err
			c.log.Error("sample append failed", zap.Error(err))
		}
	}

	if writeErr != nil {
		return stats, writeErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}
