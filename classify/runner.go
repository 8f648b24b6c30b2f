// Package classify implements a resumable, at-least-once batch enrichment
// loop: records go out to an external scoring service, results come back as
// append-only CSV rows keyed for resume.
package classify

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ClassifyFunc sends one record to the external service.
type ClassifyFunc[T any] func(ctx context.Context, record T) (Result, error)

// KeyFunc extracts the resume-key columns for a record. The same columns
// lead every output row.
type KeyFunc[T any] func(record T) []string

// Options tune the runner. Zero values mean one worker and a 60s call
// timeout.
type Options struct {
	Workers     int
	CallTimeout time.Duration
}

// Stats summarizes one Run.
type Stats struct {
	Skipped   int // already on disk before the run
	Processed int // rows appended this run
	Fallbacks int // rows that got the fallback label (errors + clamps)
	Dropped   int // in-flight when the run was canceled; left for the next run
}

// Runner drives the checkpointed classification of a record batch. Workers
// call the service concurrently; every check-then-append goes through the
// single writer loop in Run, so the at-most-one-row-per-key invariant holds
// without locking the checkpoint.
type Runner[T any] struct {
	key      KeyFunc[T]
	classify ClassifyFunc[T]
	vocab    Vocabulary
	opts     Options
	log      *zap.Logger
}

// NewRunner wires a runner. The vocabulary must already be validated.
func NewRunner[T any](key KeyFunc[T], classify ClassifyFunc[T], vocab Vocabulary, opts Options, log *zap.Logger) *Runner[T] {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 60 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner[T]{key: key, classify: classify, vocab: vocab, opts: opts, log: log}
}

type classified struct {
	key  []string
	res  Result
	drop bool
}

// Run classifies every record whose key is not already in the checkpoint and
// appends one row per record as results arrive. A service error for one
// record yields a fallback row carrying the error text as rationale; it
// never aborts the batch. Cancellation stops intake of new records; a record
// whose call failed only because the run was canceled is dropped without a
// row, so the next invocation classifies it for real instead of resuming
// past a poisoned fallback.
func (r *Runner[T]) Run(ctx context.Context, records []T, cp *Checkpoint) (Stats, error) {
	var stats Stats

	// The resume set is consulted once, up front, on this goroutine. Workers
	// only ever see records that need processing, so they cannot race a
	// Seen check against an Append.
	pending := make([]T, 0, len(records))
	queued := make(map[string]struct{}, len(records))
	for _, rec := range records {
		key := r.key(rec)
		if cp.Seen(key) {
			stats.Skipped++
			continue
		}
		if _, dup := queued[joinKey(key)]; dup {
			stats.Skipped++
			continue
		}
		queued[joinKey(key)] = struct{}{}
		pending = append(pending, rec)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	in := make(chan T)
	out := make(chan classified)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range in {
				res, drop := r.classifyOne(ctx, rec)
				out <- classified{key: r.key(rec), res: res, drop: drop}
			}
		}()
	}

	go func() {
		defer close(in)
		for _, rec := range pending {
			select {
			case <-ctx.Done():
				return
			case in <- rec:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(out)
	}()

	var writeErr error
	for c := range out {
		if writeErr != nil {
			continue
		}
		if c.drop {
			stats.Dropped++
			continue
		}
		if c.res.Label == r.vocab.Fallback {
			stats.Fallbacks++
		}
		row := append(append([]string(nil), c.key...),
			c.res.Label,
			strconv.FormatFloat(c.res.Confidence, 'f', 4, 64),
			c.res.Rationale,
		)
		if err := cp.Append(row); err != nil {
			writeErr = err
			r.log.Error("checkpoint append failed", zap.Error(err))
			continue
		}
		stats.Processed++
	}

	if writeErr != nil {
		return stats, writeErr
	}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	return stats, nil
}

// classifyOne calls the service once. drop=true means the call failed only
// because the run itself was canceled; the record must not get a row.
func (r *Runner[T]) classifyOne(ctx context.Context, rec T) (res Result, drop bool) {
	callCtx, cancel := context.WithTimeout(ctx, r.opts.CallTimeout)
	defer cancel()

	res, err := r.classify(callCtx, rec)
	if err != nil {
		// A run-level cancellation is not a verdict on the record. Writing
		// the fallback here would land it in the resume set and hide it
		// from every later run. A per-call timeout on a live run still
		// falls through to the fallback row below.
		if ctx.Err() != nil {
			r.log.Warn("classification interrupted, leaving record for next run",
				zap.Strings("key", r.key(rec)))
			return Result{}, true
		}
		r.log.Warn("classification call failed, using fallback",
			zap.Strings("key", r.key(rec)),
			zap.Error(err))
		return Result{
			Label:     r.vocab.Fallback,
			Rationale: fmt.Sprintf("error: %v", err),
		}, false
	}

	label, ok := r.vocab.Clamp(res.Label)
	if !ok {
		r.log.Warn("label outside vocabulary, using fallback",
			zap.Strings("key", r.key(rec)),
			zap.String("label", res.Label))
		res.Rationale = fmt.Sprintf("label %q outside vocabulary; %s", res.Label, res.Rationale)
	}
	res.Label = label
	return res, false
}
