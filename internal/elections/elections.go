// Package elections tracks in-memory contests among competing blocks
// for the same ledger root. The aggregator consults the tracker to
// overwrite requested hashes with the current winner before voting.
package elections

import (
	"sync"

	"repnode/internal/ledger"
	"repnode/internal/logger"
)

// election is one contest: competing blocks for a single root.
type election struct {
	root    ledger.Root                       // root is the contested ledger position
	winner  ledger.Hash                       // winner is the current leading block
	tally   map[ledger.Hash]uint64            // tally maps candidate hash to accumulated weight
	last    map[ledger.Account]uint64         // last maps representative to its highest applied sequence
	applied map[ledger.Account]ledger.Hash    // applied maps representative to the hash its weight backs
	blocks  map[ledger.Hash]struct{}          // blocks are the known candidates
}

// Tracker holds the active elections, indexed by root and by candidate hash.
type Tracker struct {
	mu     sync.Mutex                  // mu protects all maps
	byRoot map[ledger.Root]*election   // byRoot maps root to its election
	byHash map[ledger.Hash]ledger.Root // byHash maps each candidate hash to its root

	weight func(ledger.Account) uint64 // weight returns a representative's voting weight
}

// NewTracker creates an election tracker. The weight function translates
// a representative into its delegated weight; nil weights every vote at 1.
func NewTracker(weight func(ledger.Account) uint64) *Tracker {
	if weight == nil {
		weight = func(ledger.Account) uint64 { return 1 }
	}

	return &Tracker{
		byRoot: make(map[ledger.Root]*election),
		byHash: make(map[ledger.Hash]ledger.Root),
		weight: weight,
	}
}

// Start opens a contest for the block's root, or registers the block as
// an additional candidate in an existing contest. The first block seen
// for a root leads until votes say otherwise.
func (t *Tracker) Start(block *ledger.Block) {
	hash := block.Hash()
	root := block.Root()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byRoot[root]
	if !ok {
		e = &election{
			root:    root,
			winner:  hash,
			tally:   make(map[ledger.Hash]uint64),
			last:    make(map[ledger.Account]uint64),
			applied: make(map[ledger.Account]ledger.Hash),
			blocks:  make(map[ledger.Hash]struct{}),
		}
		t.byRoot[root] = e
	}

	if _, known := e.blocks[hash]; !known {
		e.blocks[hash] = struct{}{}
		t.byHash[hash] = root

		if len(e.blocks) > 1 {
			logger.Debug("fork detected", "root", root, "candidates", len(e.blocks))
		}
	}
}

// Winner returns the current leading block for the contest the given
// hash participates in. Returns false if the hash is in no contest.
func (t *Tracker) Winner(hash ledger.Hash) (ledger.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.byHash[hash]
	if !ok {
		return ledger.Hash{}, false
	}

	return t.byRoot[root].winner, true
}

// Vote applies a vote to every contest its hashes participate in. A
// later sequence from the same representative supersedes its earlier
// weight; the highest-weight candidate leads.
func (t *Tracker) Vote(vote *ledger.Vote) {
	weight := t.weight(vote.Account)

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, hash := range vote.Hashes {
		root, ok := t.byHash[hash]
		if !ok {
			continue
		}

		e := t.byRoot[root]

		if last, voted := e.last[vote.Account]; voted && vote.Sequence <= last {
			continue
		}

		if prev, voted := e.applied[vote.Account]; voted {
			e.tally[prev] -= weight
		}

		e.last[vote.Account] = vote.Sequence
		e.applied[vote.Account] = hash
		e.tally[hash] += weight

		for candidate, total := range e.tally {
			if total > e.tally[e.winner] && candidate != e.winner {
				logger.Debug("election winner changed", "root", root, "winner", candidate)
				e.winner = candidate
			}
		}
	}
}

// Erase drops the contest for a root.
func (t *Tracker) Erase(root ledger.Root) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byRoot[root]
	if !ok {
		return
	}

	for hash := range e.blocks {
		delete(t.byHash, hash)
	}

	delete(t.byRoot, root)
}

// Size returns the number of active contests.
func (t *Tracker) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.byRoot)
}
