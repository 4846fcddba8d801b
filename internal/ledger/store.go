package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"repnode/internal/logger"
)

const (
	// walSyncInterval is the interval between background WAL syncs.
	walSyncInterval = 100 * time.Millisecond
)

// Key prefixes for the ledger column families.
var (
	prefixBlock     = []byte("b:") // block by hash
	prefixSuccessor = []byte("s:") // successor hash by root
	prefixAccount   = []byte("a:") // account info by account
	prefixSequence  = []byte("q:") // vote sequence by representative
)

// AccountInfo describes an opened account chain.
type AccountInfo struct {
	OpenBlock Hash   // OpenBlock is the hash of the chain's first block
	Head      Hash   // Head is the hash of the chain's latest block
	Balance   uint64 // Balance is the balance at the head block
}

// Store is the pebble-backed ledger: blocks, chain successors, account
// infos and per-representative vote sequences. Writes are NoSync and a
// background goroutine syncs the WAL periodically.
type Store struct {
	db       *pebble.DB     // db is the underlying pebble database
	mu       sync.Mutex     // mu serializes block processing and sequence allocation
	stopSync chan struct{}  // stopSync signals the WAL sync goroutine to stop
	wg       sync.WaitGroup // wg waits for the sync goroutine
}

// NewStore opens the ledger at the given path.
func NewStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20),
		MemTableSize:                16 << 20,
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open ledger:\n%w", err)
	}

	s := &Store{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.syncLoop()

	return s, nil
}

// Close syncs the WAL a final time and closes the database.
func (s *Store) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.db.LogData(nil, pebble.Sync); err != nil {
		return err
	}

	return s.db.Close()
}

// syncLoop periodically syncs the WAL so NoSync writes become durable.
func (s *Store) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(walSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.db.LogData(nil, pebble.Sync); err != nil {
				logger.Warn("ledger WAL sync failed", "err", err)
			}
		case <-s.stopSync:
			return
		}
	}
}

// ReadTx is a consistent read-only view of the ledger.
// Callers must Close it on every exit path.
type ReadTx struct {
	snap *pebble.Snapshot // snap is the pebble snapshot backing the view
}

// TxBeginRead opens a read transaction.
func (s *Store) TxBeginRead() *ReadTx {
	return &ReadTx{snap: s.db.NewSnapshot()}
}

// Close releases the read transaction.
func (tx *ReadTx) Close() error {
	return tx.snap.Close()
}

// get reads a key from the snapshot. Returns nil if absent.
func (tx *ReadTx) get(key []byte) ([]byte, error) {
	value, closer, err := tx.snap.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// BlockExists returns true if the block is present in the ledger.
func (s *Store) BlockExists(tx *ReadTx, hash Hash) bool {
	value, err := tx.get(makeKey(prefixBlock, hash[:]))
	return err == nil && value != nil
}

// BlockGet returns the block with the given hash, or nil if absent.
func (s *Store) BlockGet(tx *ReadTx, hash Hash) *Block {
	value, err := tx.get(makeKey(prefixBlock, hash[:]))
	if err != nil || value == nil {
		return nil
	}

	block, err := DeserializeBlock(value)
	if err != nil {
		logger.Error("corrupt block in ledger", "hash", hash, "err", err)
		return nil
	}

	return block
}

// BlockSuccessor returns the hash of the block following the given root,
// or the zero hash if the root has no successor.
func (s *Store) BlockSuccessor(tx *ReadTx, root Root) Hash {
	value, err := tx.get(makeKey(prefixSuccessor, root[:]))
	if err != nil || len(value) != HashSize {
		return Hash{}
	}

	var hash Hash
	copy(hash[:], value)

	return hash
}

// AccountGet returns the account info for the given account.
// Returns false if the account has not been opened.
func (s *Store) AccountGet(tx *ReadTx, account Account) (AccountInfo, bool) {
	value, err := tx.get(makeKey(prefixAccount, account[:]))
	if err != nil || len(value) < HashSize*2+8 {
		return AccountInfo{}, false
	}

	var info AccountInfo
	copy(info.OpenBlock[:], value[:HashSize])
	copy(info.Head[:], value[HashSize:HashSize*2])
	info.Balance = binary.BigEndian.Uint64(value[HashSize*2 : HashSize*2+8])

	return info, true
}

// ProcessBlock inserts a block, records its successor link and, for open
// blocks, creates the account info. The first block stored for a root
// wins; later blocks for the same root are forks and do not replace it.
func (s *Store) ProcessBlock(block *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := block.Hash()
	root := block.Root()

	batch := s.db.NewBatch()
	defer batch.Close()

	if err := batch.Set(makeKey(prefixBlock, hash[:]), block.Serialize(), nil); err != nil {
		return fmt.Errorf("store block:\n%w", err)
	}

	existing, closer, err := s.db.Get(makeKey(prefixSuccessor, root[:]))
	haveSuccessor := err == nil && len(existing) == HashSize
	if closer != nil {
		closer.Close()
	}

	if !haveSuccessor {
		if err := batch.Set(makeKey(prefixSuccessor, root[:]), hash[:], nil); err != nil {
			return fmt.Errorf("store successor:\n%w", err)
		}
	}

	info, opened := s.accountGetLocked(block.Account)
	if block.IsOpen() && !opened {
		info = AccountInfo{OpenBlock: hash, Head: hash, Balance: block.Balance}
	} else if opened && info.Head == block.Previous {
		info.Head = hash
		info.Balance = block.Balance
	}

	if block.IsOpen() || opened {
		if err := batch.Set(makeKey(prefixAccount, block.Account[:]), encodeAccountInfo(info), nil); err != nil {
			return fmt.Errorf("store account info:\n%w", err)
		}
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("commit block:\n%w", err)
	}

	return nil
}

// SetSuccessor overwrites the successor recorded for a root.
func (s *Store) SetSuccessor(root Root, hash Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Set(makeKey(prefixSuccessor, root[:]), hash[:], pebble.NoSync)
}

// VoteGenerate signs a vote over the given hashes with the
// representative's key, allocating the next persisted sequence number.
func (s *Store) VoteGenerate(tx *ReadTx, pub Account, priv ed25519.PrivateKey, hashes []Hash) (*Vote, error) {
	sequence, err := s.nextSequence(pub)
	if err != nil {
		return nil, fmt.Errorf("allocate vote sequence:\n%w", err)
	}

	vote, err := NewVote(pub, priv, sequence, hashes)
	if err != nil {
		return nil, fmt.Errorf("sign vote:\n%w", err)
	}

	return vote, nil
}

// nextSequence increments and persists the representative's vote sequence.
func (s *Store) nextSequence(pub Account) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := makeKey(prefixSequence, pub[:])

	var sequence uint64

	value, closer, err := s.db.Get(key)
	if err == nil {
		if len(value) == 8 {
			sequence = binary.BigEndian.Uint64(value)
		}
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return 0, err
	}

	sequence++

	var encoded [8]byte
	binary.BigEndian.PutUint64(encoded[:], sequence)

	if err := s.db.Set(key, encoded[:], pebble.NoSync); err != nil {
		return 0, err
	}

	return sequence, nil
}

// accountGetLocked reads account info outside a read transaction.
// Caller holds s.mu.
func (s *Store) accountGetLocked(account Account) (AccountInfo, bool) {
	value, closer, err := s.db.Get(makeKey(prefixAccount, account[:]))
	if err != nil || len(value) < HashSize*2+8 {
		if closer != nil {
			closer.Close()
		}
		return AccountInfo{}, false
	}

	var info AccountInfo
	copy(info.OpenBlock[:], value[:HashSize])
	copy(info.Head[:], value[HashSize:HashSize*2])
	info.Balance = binary.BigEndian.Uint64(value[HashSize*2 : HashSize*2+8])

	closer.Close()

	return info, true
}

// ForEachBlock calls fn for every block in the ledger.
// Used by the snapshot exporter.
func (s *Store) ForEachBlock(fn func(hash Hash, block *Block) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefixBlock,
		UpperBound: prefixUpperBound(prefixBlock),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var hash Hash
		copy(hash[:], iter.Key()[len(prefixBlock):])

		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		block, err := DeserializeBlock(value)
		if err != nil {
			return fmt.Errorf("corrupt block %s:\n%w", hash, err)
		}

		if err := fn(hash, block); err != nil {
			return err
		}
	}

	return iter.Error()
}

// encodeAccountInfo encodes account info for storage.
func encodeAccountInfo(info AccountInfo) []byte {
	buf := make([]byte, 0, HashSize*2+8)
	buf = append(buf, info.OpenBlock[:]...)
	buf = append(buf, info.Head[:]...)

	var balance [8]byte
	binary.BigEndian.PutUint64(balance[:], info.Balance)
	buf = append(buf, balance[:]...)

	return buf
}

// makeKey concatenates a prefix and a raw key.
func makeKey(prefix, key []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	out = append(out, key...)

	return out
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}
