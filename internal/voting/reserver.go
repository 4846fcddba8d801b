package voting

import (
	"container/heap"
	"time"

	"repnode/internal/ledger"
)

// reservationTimes orders heap entries by reservation time.
type reservationTimes []reservationEntry

// reservationEntry pairs a root with the time it was observed reserved.
// Entries go stale when the reservation is refreshed; the heap keeps the
// stale entry and clean revalidates against the live map.
type reservationEntry struct {
	root ledger.Root // root is the reserved ledger position
	time time.Time   // time is the reservation instant this entry observed
}

func (r reservationTimes) Len() int            { return len(r) }
func (r reservationTimes) Less(i, j int) bool  { return r[i].time.Before(r[j].time) }
func (r reservationTimes) Swap(i, j int)       { r[i], r[j] = r[j], r[i] }
func (r *reservationTimes) Push(x any)         { *r = append(*r, x.(reservationEntry)) }
func (r *reservationTimes) Pop() any {
	old := *r
	n := len(old)
	entry := old[n-1]
	*r = old[:n-1]
	return entry
}

// Reserver rate-limits vote regeneration: one vote per root per round.
// A successful reservation also wipes the root from the vote history so
// no stale opinion is served while the fresh vote is being produced.
//
// The reserver carries no lock of its own; every method runs under the
// owning generator's mutex.
type Reserver struct {
	history      *History                    // history is purged on fresh reservations
	roundTime    time.Duration               // roundTime is the minimum interval between regenerations
	reservations map[ledger.Root]time.Time   // reservations maps root to its reservation instant
	byTime       reservationTimes            // byTime orders observations for garbage collection
}

// NewReserver creates a reserver over the given history.
func NewReserver(history *History, roundTime time.Duration) *Reserver {
	return &Reserver{
		history:      history,
		roundTime:    roundTime,
		reservations: make(map[ledger.Root]time.Time),
	}
}

// Add attempts to reserve a root. Returns true if the root is already
// reserved, meaning the caller must refuse: a recent vote is
// authoritative. Returns false on a fresh reservation, after purging the
// root from the history.
func (r *Reserver) Add(root ledger.Root) bool {
	r.clean()

	if _, reserved := r.reservations[root]; reserved {
		return true
	}

	now := time.Now()
	r.reservations[root] = now
	heap.Push(&r.byTime, reservationEntry{root: root, time: now})

	r.history.Erase(root)

	return false
}

// ValidateAndUpdate confirms every root is still reserved and refreshes
// its reservation time. Returns true if any root's reservation vanished;
// the caller discards the signed batch in that case.
func (r *Reserver) ValidateAndUpdate(roots []ledger.Root) bool {
	r.clean()

	now := time.Now()
	anyInvalid := false

	for _, root := range roots {
		if _, reserved := r.reservations[root]; !reserved {
			anyInvalid = true
			continue
		}

		r.reservations[root] = now
		heap.Push(&r.byTime, reservationEntry{root: root, time: now})
	}

	return anyInvalid
}

// Size returns the number of live reservations.
func (r *Reserver) Size() int {
	return len(r.reservations)
}

// clean garbage-collects reservations older than the round time. Heap
// entries whose observation is stale (the reservation was refreshed
// since) are discarded without touching the live reservation.
func (r *Reserver) clean() {
	cutoff := time.Now().Add(-r.roundTime)

	for r.byTime.Len() > 0 && r.byTime[0].time.Before(cutoff) {
		entry := heap.Pop(&r.byTime).(reservationEntry)

		current, ok := r.reservations[entry.root]
		if ok && current.Equal(entry.time) {
			delete(r.reservations, entry.root)
		}
	}
}
