package elections

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"repnode/internal/ledger"
)

// generateAccount creates a fresh representative keypair.
func generateAccount(t *testing.T) (ledger.Account, ed25519.PrivateKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	var account ledger.Account
	copy(account[:], pub)

	return account, priv
}

// forkPair builds two signed blocks contesting the same root.
func forkPair(t *testing.T) (*ledger.Block, *ledger.Block) {
	t.Helper()

	account, priv := generateAccount(t)
	previous := ledger.Hash{0xAA}

	first := &ledger.Block{
		Account:        account,
		Previous:       previous,
		Representative: account,
		Balance:        90,
	}
	first.Sign(priv)

	second := &ledger.Block{
		Account:        account,
		Previous:       previous,
		Representative: account,
		Balance:        80,
	}
	second.Sign(priv)

	return first, second
}

// voteFor signs a vote over a single hash.
func voteFor(t *testing.T, account ledger.Account, priv ed25519.PrivateKey, sequence uint64, hash ledger.Hash) *ledger.Vote {
	t.Helper()

	vote, err := ledger.NewVote(account, priv, sequence, []ledger.Hash{hash})
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}

	return vote
}

// TestTrackerFirstBlockLeads tests that the first candidate wins by
// default.
func TestTrackerFirstBlockLeads(t *testing.T) {
	tracker := NewTracker(nil)

	first, second := forkPair(t)
	tracker.Start(first)
	tracker.Start(second)

	winner, ok := tracker.Winner(second.Hash())
	if !ok {
		t.Fatal("contested hash should be in a contest")
	}

	if winner != first.Hash() {
		t.Error("first candidate should lead before any votes")
	}

	if tracker.Size() != 1 {
		t.Errorf("contests: got %d, want 1", tracker.Size())
	}
}

// TestTrackerWinnerUnknownHash tests the miss path.
func TestTrackerWinnerUnknownHash(t *testing.T) {
	tracker := NewTracker(nil)

	if _, ok := tracker.Winner(ledger.Hash{0x01}); ok {
		t.Error("unknown hash should be in no contest")
	}
}

// TestTrackerWeightFlipsWinner tests that a heavier vote moves the lead.
func TestTrackerWeightFlipsWinner(t *testing.T) {
	weights := make(map[ledger.Account]uint64)
	tracker := NewTracker(func(a ledger.Account) uint64 { return weights[a] })

	first, second := forkPair(t)
	tracker.Start(first)
	tracker.Start(second)

	light, lightPriv := generateAccount(t)
	heavy, heavyPriv := generateAccount(t)
	weights[light] = 10
	weights[heavy] = 100

	tracker.Vote(voteFor(t, light, lightPriv, 1, first.Hash()))

	winner, _ := tracker.Winner(first.Hash())
	if winner != first.Hash() {
		t.Fatal("first candidate should still lead")
	}

	tracker.Vote(voteFor(t, heavy, heavyPriv, 1, second.Hash()))

	winner, _ = tracker.Winner(first.Hash())
	if winner != second.Hash() {
		t.Error("heavier vote should flip the winner")
	}
}

// TestTrackerSequenceSupersedes tests that a representative's weight
// follows its latest vote only.
func TestTrackerSequenceSupersedes(t *testing.T) {
	weights := make(map[ledger.Account]uint64)
	tracker := NewTracker(func(a ledger.Account) uint64 { return weights[a] })

	first, second := forkPair(t)
	tracker.Start(first)
	tracker.Start(second)

	rep, repPriv := generateAccount(t)
	weights[rep] = 100

	anchor, anchorPriv := generateAccount(t)
	weights[anchor] = 50
	tracker.Vote(voteFor(t, anchor, anchorPriv, 1, first.Hash()))

	// The representative backs the fork, then switches back.
	tracker.Vote(voteFor(t, rep, repPriv, 1, second.Hash()))

	winner, _ := tracker.Winner(first.Hash())
	if winner != second.Hash() {
		t.Fatal("fork should lead after the heavy vote")
	}

	tracker.Vote(voteFor(t, rep, repPriv, 2, first.Hash()))

	winner, _ = tracker.Winner(first.Hash())
	if winner != first.Hash() {
		t.Error("weight should move with the later sequence")
	}
}

// TestTrackerStaleSequenceIgnored tests replay protection.
func TestTrackerStaleSequenceIgnored(t *testing.T) {
	weights := make(map[ledger.Account]uint64)
	tracker := NewTracker(func(a ledger.Account) uint64 { return weights[a] })

	first, second := forkPair(t)
	tracker.Start(first)
	tracker.Start(second)

	rep, repPriv := generateAccount(t)
	weights[rep] = 100

	tracker.Vote(voteFor(t, rep, repPriv, 5, first.Hash()))

	// An older and an equal sequence change nothing.
	tracker.Vote(voteFor(t, rep, repPriv, 4, second.Hash()))
	tracker.Vote(voteFor(t, rep, repPriv, 5, second.Hash()))

	winner, _ := tracker.Winner(first.Hash())
	if winner != first.Hash() {
		t.Error("stale sequences should not move weight")
	}
}

// TestTrackerVoteUnknownHash tests that foreign hashes are ignored.
func TestTrackerVoteUnknownHash(t *testing.T) {
	tracker := NewTracker(nil)

	rep, repPriv := generateAccount(t)
	tracker.Vote(voteFor(t, rep, repPriv, 1, ledger.Hash{0x01}))

	if tracker.Size() != 0 {
		t.Error("votes for unknown hashes should open no contest")
	}
}

// TestTrackerErase tests contest removal.
func TestTrackerErase(t *testing.T) {
	tracker := NewTracker(nil)

	first, second := forkPair(t)
	tracker.Start(first)
	tracker.Start(second)

	tracker.Erase(first.Root())

	if tracker.Size() != 0 {
		t.Errorf("contests: got %d, want 0", tracker.Size())
	}

	if _, ok := tracker.Winner(first.Hash()); ok {
		t.Error("erased candidates should be in no contest")
	}

	if _, ok := tracker.Winner(second.Hash()); ok {
		t.Error("erased candidates should be in no contest")
	}

	// Erasing an unknown root is a no-op.
	tracker.Erase(ledger.Root{0xFF})
}

// TestTrackerRestartAfterErase tests that a root can be contested again.
func TestTrackerRestartAfterErase(t *testing.T) {
	tracker := NewTracker(nil)

	first, _ := forkPair(t)
	tracker.Start(first)
	tracker.Erase(first.Root())
	tracker.Start(first)

	winner, ok := tracker.Winner(first.Hash())
	if !ok || winner != first.Hash() {
		t.Error("restarted contest should lead with its candidate")
	}
}
