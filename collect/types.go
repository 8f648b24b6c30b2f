package collect

// RawReply is one comment as returned by the comment-search endpoint.
// ID and ParentID carry their provider type prefixes (t1_/t3_) untouched;
// normalization happens at comparison sites, never in place.
type RawReply struct {
	ID        string `json:"id"`
	ParentID  string `json:"parent_id"`
	Body      string `json:"body"`
	Score     int    `json:"score"`
	CreatedAt int64  `json:"created_utc"`
	ThreadID  string `json:"link_id"`
}

// SampleRecord is one emitted row of the stratified per-thread sample.
// RootID is the normalized ID of the governing top-K root; it equals the
// record's own normalized ID exactly when IsTopRoot is true.
type SampleRecord struct {
	RawReply
	IsTopRoot bool
	RootID    string
}

// ThreadTree is the in-memory reply hierarchy for a single thread, keyed by
// normalized IDs. It is rebuilt per thread and discarded after emission.
type ThreadTree struct {
	ThreadID string

	// Roots are replies whose normalized parent is the thread ID itself,
	// in fetch order.
	Roots []RawReply

	// Children maps a normalized parent ID to its direct replies in fetch
	// order. Keys may name parents that were never fetched (orphan parents);
	// those subtrees are simply unreachable from the roots.
	Children map[string][]RawReply

	// Orphans counts replies whose normalized parent matched neither the
	// thread ID nor any fetched reply's ID.
	Orphans int

	// Collisions counts replies discarded because another reply with the
	// same normalized ID was already indexed.
	Collisions int
}
