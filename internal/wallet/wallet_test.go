package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"repnode/internal/ledger"
)

// generateKey creates a fresh signing key.
func generateKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// TestWalletInsertAndExists tests key insertion and lookup.
func TestWalletInsertAndExists(t *testing.T) {
	w := New(nil, 0)

	priv := generateKey(t)
	account := w.InsertAdhoc(priv)

	if !w.Exists(account) {
		t.Error("inserted key should exist")
	}

	if w.Exists(ledger.Account{0x01}) {
		t.Error("foreign account should not exist")
	}

	counts := w.Reps()
	if counts.Held != 1 || counts.Voting != 1 {
		t.Errorf("counts: got %+v, want 1 held, 1 voting", counts)
	}
}

// TestWalletGenerateAdhoc tests fresh key generation.
func TestWalletGenerateAdhoc(t *testing.T) {
	w := New(nil, 0)

	account, err := w.GenerateAdhoc()
	if err != nil {
		t.Fatalf("generate adhoc: %v", err)
	}

	if !w.Exists(account) {
		t.Error("generated key should exist")
	}
}

// TestWalletVoteMinimumGates tests weight gating of voting eligibility.
func TestWalletVoteMinimumGates(t *testing.T) {
	weights := make(map[ledger.Account]uint64)
	w := New(func(a ledger.Account) uint64 { return weights[a] }, 100)

	rich := w.InsertAdhoc(generateKey(t))
	poor := w.InsertAdhoc(generateKey(t))
	weights[rich] = 150
	weights[poor] = 50

	counts := w.Reps()
	if counts.Held != 2 {
		t.Errorf("held: got %d, want 2", counts.Held)
	}

	if counts.Voting != 1 {
		t.Errorf("voting: got %d, want 1", counts.Voting)
	}

	seen := make(map[ledger.Account]struct{})
	w.ForEachRepresentative(func(pub ledger.Account, priv ed25519.PrivateKey) {
		seen[pub] = struct{}{}
	})

	if _, ok := seen[rich]; !ok {
		t.Error("eligible representative should be iterated")
	}

	if _, ok := seen[poor]; ok {
		t.Error("under-weight representative should be skipped")
	}
}

// TestWalletNilWeightVotesAll tests that a nil weight function lets
// every held key vote.
func TestWalletNilWeightVotesAll(t *testing.T) {
	w := New(nil, 1_000_000)

	w.InsertAdhoc(generateKey(t))
	w.InsertAdhoc(generateKey(t))

	counts := w.Reps()
	if counts.Voting != 2 {
		t.Errorf("voting: got %d, want 2", counts.Voting)
	}

	iterated := 0
	w.ForEachRepresentative(func(pub ledger.Account, priv ed25519.PrivateKey) {
		iterated++
	})

	if iterated != 2 {
		t.Errorf("iterated: got %d, want 2", iterated)
	}
}

// TestWalletSignsWithHeldKey tests that the iterated key signs for its
// account.
func TestWalletSignsWithHeldKey(t *testing.T) {
	w := New(nil, 0)

	priv := generateKey(t)
	account := w.InsertAdhoc(priv)

	w.ForEachRepresentative(func(pub ledger.Account, key ed25519.PrivateKey) {
		if pub != account {
			t.Errorf("iterated account: got %s, want %s", pub, account)
		}

		vote, err := ledger.NewVote(pub, key, 1, []ledger.Hash{{0x01}})
		if err != nil {
			t.Fatalf("sign vote: %v", err)
		}

		if err := vote.Validate(); err != nil {
			t.Errorf("vote signed with held key invalid: %v", err)
		}
	})
}
