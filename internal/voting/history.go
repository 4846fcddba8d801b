// Package voting implements the node's vote issuing core: the local
// vote history, the per-root vote reserver, the batching vote generator
// and the self-delivery vote processor.
package voting

import (
	"container/list"
	"sync"

	"repnode/internal/ledger"
)

// MaxHistory caps the total number of cached votes.
const MaxHistory = 100_000

// localVote is one cached vote for a root/hash position.
type localVote struct {
	root ledger.Root  // root is the ledger position voted on
	hash ledger.Hash  // hash is the block the vote backs
	vote *ledger.Vote // vote is the shared immutable vote
}

// History caches recently issued votes by root. For any root present,
// every entry carries the same hash: the node's current opinion for
// that position. Adding a vote with a new hash evicts the old opinion.
type History struct {
	mu       sync.Mutex                      // mu protects order and byRoot
	order    *list.List                      // order is the insertion sequence of *localVote
	byRoot   map[ledger.Root][]*list.Element // byRoot indexes entries by root
}

// NewHistory creates an empty vote history.
func NewHistory() *History {
	return &History{
		order:  list.New(),
		byRoot: make(map[ledger.Root][]*list.Element),
	}
}

// Add caches a vote for a root/hash position. Entries for the same root
// with a different hash are evicted first; the oldest entries overall
// are trimmed to keep the history within MaxHistory.
func (h *History) Add(root ledger.Root, hash ledger.Hash, vote *ledger.Vote) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Evict any entry that is not for this hash
	kept := h.byRoot[root][:0]
	for _, elem := range h.byRoot[root] {
		if elem.Value.(*localVote).hash != hash {
			h.order.Remove(elem)
		} else {
			kept = append(kept, elem)
		}
	}

	elem := h.order.PushBack(&localVote{root: root, hash: hash, vote: vote})
	h.byRoot[root] = append(kept, elem)

	h.clean()
}

// Erase removes all entries for a root.
func (h *History) Erase(root ledger.Root) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, elem := range h.byRoot[root] {
		h.order.Remove(elem)
	}

	delete(h.byRoot, root)
}

// Votes returns all cached votes for a root.
func (h *History) Votes(root ledger.Root) []*ledger.Vote {
	h.mu.Lock()
	defer h.mu.Unlock()

	var result []*ledger.Vote
	for _, elem := range h.byRoot[root] {
		result = append(result, elem.Value.(*localVote).vote)
	}

	return result
}

// VotesFor returns the cached votes for a root that back the given hash.
func (h *History) VotesFor(root ledger.Root, hash ledger.Hash) []*ledger.Vote {
	h.mu.Lock()
	defer h.mu.Unlock()

	var result []*ledger.Vote
	for _, elem := range h.byRoot[root] {
		if entry := elem.Value.(*localVote); entry.hash == hash {
			result = append(result, entry.vote)
		}
	}

	return result
}

// Exists returns true if any vote is cached for the root.
func (h *History) Exists(root ledger.Root) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.byRoot[root]) > 0
}

// Size returns the total number of cached votes.
func (h *History) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.order.Len()
}

// clean trims the oldest insertions until the history fits. Caller
// holds h.mu.
func (h *History) clean() {
	for h.order.Len() > MaxHistory {
		elem := h.order.Front()
		entry := elem.Value.(*localVote)
		h.order.Remove(elem)
		h.removeIndex(entry.root, elem)
	}
}

// removeIndex drops one element from a root's index. Caller holds h.mu.
func (h *History) removeIndex(root ledger.Root, elem *list.Element) {
	entries := h.byRoot[root]
	for i, e := range entries {
		if e == elem {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}

	if len(entries) == 0 {
		delete(h.byRoot, root)
	} else {
		h.byRoot[root] = entries
	}
}
