package ledger

import (
	"crypto/ed25519"
	"os"
	"path/filepath"
	"testing"
)

// newTestStore opens a store in a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir, err := os.MkdirTemp("", "store_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	t.Cleanup(func() { os.RemoveAll(dir) })

	store, err := NewStore(filepath.Join(dir, "db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	t.Cleanup(func() { store.Close() })

	return store
}

// signChainBlock builds and signs a block for an existing key.
func signChainBlock(t *testing.T, account Account, priv ed25519.PrivateKey, previous Hash, balance uint64) *Block {
	t.Helper()

	block := &Block{
		Account:        account,
		Previous:       previous,
		Representative: account,
		Balance:        balance,
	}
	block.Sign(priv)

	return block
}

// TestStoreProcessOpenBlock tests that an open block creates the account.
func TestStoreProcessOpenBlock(t *testing.T) {
	store := newTestStore(t)

	account, priv := generateVoteKey(t)
	open := signChainBlock(t, account, priv, Hash{}, 100)

	if err := store.ProcessBlock(open); err != nil {
		t.Fatalf("process block: %v", err)
	}

	tx := store.TxBeginRead()
	defer tx.Close()

	if !store.BlockExists(tx, open.Hash()) {
		t.Error("open block should exist")
	}

	stored := store.BlockGet(tx, open.Hash())
	if stored == nil || stored.Hash() != open.Hash() {
		t.Error("stored block does not round trip")
	}

	info, ok := store.AccountGet(tx, account)
	if !ok {
		t.Fatal("account should be opened")
	}

	if info.OpenBlock != open.Hash() || info.Head != open.Hash() {
		t.Error("open block should be both open and head")
	}

	if info.Balance != 100 {
		t.Errorf("balance: got %d, want 100", info.Balance)
	}
}

// TestStoreBlockGetAbsent tests lookups for unknown hashes.
func TestStoreBlockGetAbsent(t *testing.T) {
	store := newTestStore(t)

	tx := store.TxBeginRead()
	defer tx.Close()

	if store.BlockExists(tx, Hash{0x01}) {
		t.Error("unknown block should not exist")
	}

	if store.BlockGet(tx, Hash{0x01}) != nil {
		t.Error("unknown block should be nil")
	}

	if store.BlockSuccessor(tx, Root{0x01}) != (Hash{}) {
		t.Error("unknown root should have a zero successor")
	}

	if _, ok := store.AccountGet(tx, Account{0x01}); ok {
		t.Error("unknown account should not be opened")
	}
}

// TestStoreChainExtension tests that the head advances on the chain.
func TestStoreChainExtension(t *testing.T) {
	store := newTestStore(t)

	account, priv := generateVoteKey(t)
	open := signChainBlock(t, account, priv, Hash{}, 100)
	next := signChainBlock(t, account, priv, open.Hash(), 90)

	if err := store.ProcessBlock(open); err != nil {
		t.Fatalf("process open: %v", err)
	}

	if err := store.ProcessBlock(next); err != nil {
		t.Fatalf("process next: %v", err)
	}

	tx := store.TxBeginRead()
	defer tx.Close()

	info, ok := store.AccountGet(tx, account)
	if !ok {
		t.Fatal("account should be opened")
	}

	if info.Head != next.Hash() {
		t.Error("head should advance to the chain block")
	}

	if info.Balance != 90 {
		t.Errorf("balance: got %d, want 90", info.Balance)
	}

	if info.OpenBlock != open.Hash() {
		t.Error("open block should not change")
	}

	if store.BlockSuccessor(tx, next.Root()) != next.Hash() {
		t.Error("successor should link the open block to its child")
	}
}

// TestStoreForkDoesNotReplaceSuccessor tests that the first block seen
// for a root keeps the successor slot.
func TestStoreForkDoesNotReplaceSuccessor(t *testing.T) {
	store := newTestStore(t)

	account, priv := generateVoteKey(t)
	open := signChainBlock(t, account, priv, Hash{}, 100)
	first := signChainBlock(t, account, priv, open.Hash(), 90)
	fork := signChainBlock(t, account, priv, open.Hash(), 80)

	for _, block := range []*Block{open, first, fork} {
		if err := store.ProcessBlock(block); err != nil {
			t.Fatalf("process block: %v", err)
		}
	}

	tx := store.TxBeginRead()
	defer tx.Close()

	if store.BlockSuccessor(tx, first.Root()) != first.Hash() {
		t.Error("fork should not replace the first successor")
	}

	if !store.BlockExists(tx, fork.Hash()) {
		t.Error("fork block should still be stored")
	}

	// The fork did not extend the head.
	info, _ := store.AccountGet(tx, account)
	if info.Head != first.Hash() {
		t.Error("fork should not move the head")
	}
}

// TestStoreSetSuccessorOverwrites tests fork resolution rewrites.
func TestStoreSetSuccessorOverwrites(t *testing.T) {
	store := newTestStore(t)

	account, priv := generateVoteKey(t)
	open := signChainBlock(t, account, priv, Hash{}, 100)
	first := signChainBlock(t, account, priv, open.Hash(), 90)
	fork := signChainBlock(t, account, priv, open.Hash(), 80)

	for _, block := range []*Block{open, first, fork} {
		if err := store.ProcessBlock(block); err != nil {
			t.Fatalf("process block: %v", err)
		}
	}

	if err := store.SetSuccessor(fork.Root(), fork.Hash()); err != nil {
		t.Fatalf("set successor: %v", err)
	}

	tx := store.TxBeginRead()
	defer tx.Close()

	if store.BlockSuccessor(tx, fork.Root()) != fork.Hash() {
		t.Error("successor should be overwritten")
	}
}

// TestStoreVoteGenerateSequences tests persisted sequence allocation.
func TestStoreVoteGenerateSequences(t *testing.T) {
	store := newTestStore(t)

	account, priv := generateVoteKey(t)
	hashes := []Hash{{0x01}}

	tx := store.TxBeginRead()
	defer tx.Close()

	first, err := store.VoteGenerate(tx, account, priv, hashes)
	if err != nil {
		t.Fatalf("generate vote: %v", err)
	}

	second, err := store.VoteGenerate(tx, account, priv, hashes)
	if err != nil {
		t.Fatalf("generate vote: %v", err)
	}

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences: got %d, %d, want 1, 2", first.Sequence, second.Sequence)
	}

	if err := second.Validate(); err != nil {
		t.Errorf("generated vote invalid: %v", err)
	}

	// Another representative starts its own counter.
	other, otherPriv := generateVoteKey(t)

	vote, err := store.VoteGenerate(tx, other, otherPriv, hashes)
	if err != nil {
		t.Fatalf("generate vote: %v", err)
	}

	if vote.Sequence != 1 {
		t.Errorf("other sequence: got %d, want 1", vote.Sequence)
	}
}

// TestStoreForEachBlock tests block enumeration.
func TestStoreForEachBlock(t *testing.T) {
	store := newTestStore(t)

	want := make(map[Hash]struct{})
	for i := 0; i < 3; i++ {
		block := makeSignedBlock(t, Hash{}, uint64(100+i))
		want[block.Hash()] = struct{}{}

		if err := store.ProcessBlock(block); err != nil {
			t.Fatalf("process block: %v", err)
		}
	}

	seen := make(map[Hash]struct{})

	err := store.ForEachBlock(func(hash Hash, block *Block) error {
		if hash != block.Hash() {
			t.Errorf("key %s does not match block hash %s", hash, block.Hash())
		}
		seen[hash] = struct{}{}
		return nil
	})
	if err != nil {
		t.Fatalf("for each block: %v", err)
	}

	if len(seen) != len(want) {
		t.Fatalf("visited blocks: got %d, want %d", len(seen), len(want))
	}

	for hash := range want {
		if _, ok := seen[hash]; !ok {
			t.Errorf("block %s not visited", hash)
		}
	}
}

// TestStoreReopenPersists tests durability across reopen.
func TestStoreReopenPersists(t *testing.T) {
	dir, err := os.MkdirTemp("", "store_test_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}

	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "db")

	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	account, priv := generateVoteKey(t)
	open := signChainBlock(t, account, priv, Hash{}, 100)

	if err := store.ProcessBlock(open); err != nil {
		t.Fatalf("process block: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}

	t.Cleanup(func() { reopened.Close() })

	tx := reopened.TxBeginRead()
	defer tx.Close()

	if !reopened.BlockExists(tx, open.Hash()) {
		t.Error("block should survive reopen")
	}

	info, ok := reopened.AccountGet(tx, account)
	if !ok || info.Balance != 100 {
		t.Error("account info should survive reopen")
	}
}
