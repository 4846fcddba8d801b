package genesis

import (
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"repnode/internal/ledger"
)

// newGenesisTestStore opens a store in a temporary directory.
func newGenesisTestStore(t *testing.T) *ledger.Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "genesis_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := ledger.NewStore(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	t.Cleanup(func() { store.Close() })

	return store
}

// TestGenesisCreate tests that genesis opens the first account.
func TestGenesisCreate(t *testing.T) {
	store := newGenesisTestStore(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	block, err := Create(store, Config{PrivateKey: priv, InitialMint: 1_000_000})
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}

	if !block.IsOpen() {
		t.Error("genesis block should open its chain")
	}

	if err := block.Validate(); err != nil {
		t.Errorf("genesis block invalid: %v", err)
	}

	var account ledger.Account
	copy(account[:], pub)

	if block.Account != account {
		t.Error("genesis account should match the key")
	}

	if block.Representative != account {
		t.Error("genesis account should represent itself")
	}

	tx := store.TxBeginRead()
	defer tx.Close()

	info, ok := store.AccountGet(tx, account)
	if !ok {
		t.Fatal("genesis account should be opened")
	}

	if info.Balance != 1_000_000 {
		t.Errorf("balance: got %d, want 1000000", info.Balance)
	}

	if info.OpenBlock != block.Hash() || info.Head != block.Hash() {
		t.Error("genesis block should be both open and head")
	}
}

// TestGenesisIdempotent tests that repeated creation returns the stored
// block.
func TestGenesisIdempotent(t *testing.T) {
	store := newGenesisTestStore(t)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	first, err := Create(store, Config{PrivateKey: priv, InitialMint: 500})
	if err != nil {
		t.Fatalf("create genesis: %v", err)
	}

	second, err := Create(store, Config{PrivateKey: priv, InitialMint: 999})
	if err != nil {
		t.Fatalf("recreate genesis: %v", err)
	}

	if second.Hash() != first.Hash() {
		t.Error("recreation should return the stored block")
	}

	if second.Balance != 500 {
		t.Errorf("balance: got %d, want the original 500", second.Balance)
	}
}

// TestGenesisRejectsBadKey tests the key size guard.
func TestGenesisRejectsBadKey(t *testing.T) {
	store := newGenesisTestStore(t)

	if _, err := Create(store, Config{PrivateKey: make([]byte, 10)}); err == nil {
		t.Error("short key should be rejected")
	}
}
