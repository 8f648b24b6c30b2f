package collect

import "sort"

// BuildThreadTree indexes a flat reply set into a parent->children adjacency
// structure keyed by normalized IDs, separating direct replies to the thread
// origin (roots) from nested replies.
//
// Replies with a duplicate normalized ID are dropped and counted. Replies
// whose parent was never fetched stay in the adjacency map under that parent
// key — they are counted as orphans and never reached during descendant
// collection, which is expected with a capped fetch.
func BuildThreadTree(threadID string, replies []RawReply) ThreadTree {
	normThread := NormalizeID(threadID)
	tree := ThreadTree{
		ThreadID: normThread,
		Children: make(map[string][]RawReply),
	}

	seen := make(map[string]struct{}, len(replies))
	for _, r := range replies {
		id := NormalizeID(r.ID)
		if _, dup := seen[id]; dup {
			tree.Collisions++
			continue
		}
		seen[id] = struct{}{}

		parent := NormalizeID(r.ParentID)
		if parent == normThread {
			tree.Roots = append(tree.Roots, r)
			continue
		}
		tree.Children[parent] = append(tree.Children[parent], r)
	}

	for parent, kids := range tree.Children {
		if parent == normThread {
			continue
		}
		if _, ok := seen[parent]; !ok {
			tree.Orphans += len(kids)
		}
	}
	return tree
}

// SelectTopRoots orders roots by score descending and returns the first k.
// The sort is stable so ties keep fetch order, which makes selection
// deterministic across runs on identical input.
func SelectTopRoots(roots []RawReply, k int) []RawReply {
	if k <= 0 {
		return nil
	}
	ranked := append([]RawReply(nil), roots...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}

// CollectDescendants walks the adjacency structure from a root's normalized
// ID and returns every reachable reply at any depth, depth-first in child
// insertion order. The walk is iterative with a visited set: malformed input
// containing a parent cycle terminates instead of looping.
func CollectDescendants(root RawReply, tree ThreadTree) []RawReply {
	rootID := NormalizeID(root.ID)
	visited := map[string]struct{}{rootID: {}}

	stack := make([]RawReply, 0, len(tree.Children[rootID]))
	for i := len(tree.Children[rootID]) - 1; i >= 0; i-- {
		stack = append(stack, tree.Children[rootID][i])
	}

	var out []RawReply
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		id := NormalizeID(cur.ID)
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		out = append(out, cur)

		kids := tree.Children[id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

// EmitSample flattens the top-k roots and their full descendant subtrees into
// sample records. Each selected root is emitted first with IsTopRoot set,
// followed by its descendants tagged with the root's normalized ID. Replies
// under non-selected roots are dropped.
func EmitSample(tree ThreadTree, k int) []SampleRecord {
	var out []SampleRecord
	for _, root := range SelectTopRoots(tree.Roots, k) {
		rootID := NormalizeID(root.ID)
		out = append(out, SampleRecord{RawReply: root, IsTopRoot: true, RootID: rootID})
		for _, d := range CollectDescendants(root, tree) {
			out = append(out, SampleRecord{RawReply: d, IsTopRoot: false, RootID: rootID})
		}
	}
	return out
}
