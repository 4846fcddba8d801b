package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"repnode/internal/ledger"
	"repnode/internal/logger"
)

const (
	// defaultSnapshotInterval is the default interval between snapshot
	// refreshes.
	defaultSnapshotInterval = 10 * time.Second
)

// Requester issues a request/response exchange with a peer.
type Requester interface {
	Request(ctx context.Context, data []byte) ([]byte, error)
}

// Manager serves ledger snapshots to bootstrapping peers. The snapshot
// is rebuilt and recompressed on an interval so requests are answered
// from cache.
type Manager struct {
	store    *ledger.Store // store is the ledger being snapshotted
	interval time.Duration // interval is the refresh period

	mu     sync.RWMutex // mu protects cached
	cached []byte       // cached is the latest compressed snapshot

	stop chan struct{}  // stop terminates the refresh loop
	wg   sync.WaitGroup // wg joins the refresh loop
}

// NewManager creates a snapshot manager and starts its refresh loop.
// A zero interval selects the default.
func NewManager(store *ledger.Store, interval time.Duration) *Manager {
	if interval == 0 {
		interval = defaultSnapshotInterval
	}

	m := &Manager{
		store:    store,
		interval: interval,
		stop:     make(chan struct{}),
	}

	m.wg.Add(1)
	go m.run()

	return m
}

// Stop terminates the refresh loop.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Snapshot returns the latest compressed snapshot, building one on
// demand if the cache is empty.
func (m *Manager) Snapshot() ([]byte, error) {
	m.mu.RLock()
	cached := m.cached
	m.mu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	return m.refresh()
}

// HandleRequest answers a snapshot request from a peer. Non-snapshot
// requests are rejected.
func (m *Manager) HandleRequest(data []byte) ([]byte, error) {
	if !IsSnapshotRequest(data) {
		return nil, fmt.Errorf("unexpected request type")
	}

	return m.Snapshot()
}

// Bootstrap requests a snapshot from the peer, decompresses it and
// applies it to the store. Returns the number of applied blocks.
func Bootstrap(ctx context.Context, peer Requester, store *ledger.Store) (int, error) {
	response, err := peer.Request(ctx, EncodeSnapshotRequest())
	if err != nil {
		return 0, fmt.Errorf("request snapshot:\n%w", err)
	}

	raw, err := DecompressSnapshot(response)
	if err != nil {
		return 0, fmt.Errorf("decompress snapshot:\n%w", err)
	}

	applied, err := ApplySnapshot(store, raw)
	if err != nil {
		return applied, fmt.Errorf("apply snapshot:\n%w", err)
	}

	logger.Info("bootstrap complete", "blocks", applied)

	return applied, nil
}

// run rebuilds the cached snapshot on the interval.
func (m *Manager) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := m.refresh(); err != nil {
				logger.Warn("snapshot refresh failed", "err", err)
			}
		case <-m.stop:
			return
		}
	}
}

// refresh builds, compresses and caches a fresh snapshot.
func (m *Manager) refresh() ([]byte, error) {
	raw, err := CreateSnapshot(m.store)
	if err != nil {
		return nil, fmt.Errorf("create snapshot:\n%w", err)
	}

	compressed, err := CompressSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("compress snapshot:\n%w", err)
	}

	m.mu.Lock()
	m.cached = compressed
	m.mu.Unlock()

	return compressed, nil
}
