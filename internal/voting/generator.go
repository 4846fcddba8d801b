package voting

import (
	"crypto/ed25519"
	"sync"
	"time"

	"repnode/internal/ledger"
	"repnode/internal/logger"
	"repnode/internal/messages"
	"repnode/internal/stats"
)

// Channel is an outbound path to a peer (or to the node itself).
type Channel interface {
	Send(data []byte) error
	Endpoint() string
}

// Flooder broadcasts votes to the network.
type Flooder interface {
	FloodVotePR(vote *ledger.Vote)
	FloodVote(vote *ledger.Vote, fanoutMult float64)
}

// Processor receives votes as if they arrived from the network. The
// generator self-delivers every broadcast vote through it.
type Processor interface {
	Vote(vote *ledger.Vote, channel Channel)
}

// RepSigner enumerates the wallet's voting representatives.
type RepSigner interface {
	ForEachRepresentative(fn func(pub ledger.Account, priv ed25519.PrivateKey))
}

// GeneratorConfig carries the generator's timing tunables.
type GeneratorConfig struct {
	Delay     time.Duration // Delay is the batch wait of the two-phase worker loop
	Threshold int           // Threshold is the queue size that arms the second wait phase
}

// pendingHash is one enqueued vote request awaiting batching.
type pendingHash struct {
	root ledger.Root // root is the reserved ledger position
	hash ledger.Hash // hash is the block to vote for
}

// Generator batches pending roots, signs one vote per representative
// over each batch and hands the votes to a broadcast or caller action.
// One worker goroutine drives the asynchronous path; Generate serves
// the aggregator synchronously.
type Generator struct {
	mu       sync.Mutex    // mu guards queue, reserver and stopped
	queue    []pendingHash // queue is the FIFO of pending requests
	reserver *Reserver     // reserver rate-limits per-root regeneration, guarded by mu
	stopped  bool          // stopped is set once Stop begins

	config    GeneratorConfig // config holds the timing tunables
	store     *ledger.Store   // store provides read transactions and vote signing
	wallet    RepSigner       // wallet enumerates representative keys
	history   *History        // history caches produced votes
	network   Flooder         // network floods broadcast votes
	processor Processor       // processor receives self-delivered votes
	self      Channel         // self is the loopback channel for self-delivery
	metrics   *stats.Stats    // metrics reports the live reservation count, may be nil

	notify chan struct{}  // notify wakes the worker when a batch fills
	stop   chan struct{}  // stop terminates the worker
	wg     sync.WaitGroup // wg joins the worker
}

// NewGenerator creates a vote generator and starts its worker.
func NewGenerator(config GeneratorConfig, store *ledger.Store, wallet RepSigner, processor Processor, history *History, network Flooder, self Channel, roundTime time.Duration, metrics *stats.Stats) *Generator {
	g := &Generator{
		config:    config,
		store:     store,
		wallet:    wallet,
		history:   history,
		network:   network,
		processor: processor,
		self:      self,
		metrics:   metrics,
		reserver:  NewReserver(history, roundTime),
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	g.wg.Add(1)
	go g.run()

	return g
}

// Add requests a vote for a root/hash position. Cached votes are
// re-broadcast without new work. Returns true if the request was
// refused because the root is rate-limited.
func (g *Generator) Add(root ledger.Root, hash ledger.Hash) bool {
	votes := g.history.VotesFor(root, hash)
	if len(votes) > 0 {
		for _, vote := range votes {
			g.broadcast(vote)
		}

		return false
	}

	g.mu.Lock()

	refused := g.reserver.Add(root)

	full := false
	if !refused {
		g.queue = append(g.queue, pendingHash{root: root, hash: hash})
		full = len(g.queue) >= ledger.VoteHashesMax
	}

	g.reportReservations()
	g.mu.Unlock()

	if full {
		g.signal()
	}

	return refused
}

// Generate produces votes for the given requests synchronously, calling
// action once per produced vote. Roots that are rate-limited are
// skipped. Used by the request aggregator.
func (g *Generator) Generate(requests []messages.HashRoot, action func(*ledger.Vote)) {
	if len(requests) == 0 {
		return
	}

	hashes := make([]ledger.Hash, 0, ledger.VoteHashesMax)
	roots := make([]ledger.Root, 0, ledger.VoteHashesMax)

	g.mu.Lock()

	for _, request := range requests {
		if g.reserver.Add(request.Root) {
			continue
		}

		hashes = append(hashes, request.Hash)
		roots = append(roots, request.Root)

		if len(hashes) == ledger.VoteHashesMax {
			g.vote(hashes, roots, action)
			hashes = hashes[:0]
			roots = roots[:0]
		}
	}

	if len(hashes) > 0 {
		g.vote(hashes, roots, action)
	}

	g.reportReservations()
	g.mu.Unlock()
}

// Stop terminates the worker and waits for it to exit.
func (g *Generator) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	g.mu.Unlock()

	close(g.stop)
	g.wg.Wait()
}

// ReservationCount returns the number of live vote reservations.
func (g *Generator) ReservationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.reserver.Size()
}

// QueueSize returns the number of pending requests awaiting batching.
func (g *Generator) QueueSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.queue)
}

// run is the worker loop. Full batches are sent immediately; partial
// batches wait through a two-phase delay that consolidates
// near-simultaneous requests while bounding latency to roughly twice
// the configured delay.
func (g *Generator) run() {
	defer g.wg.Done()

	for {
		g.mu.Lock()
		if g.stopped {
			g.mu.Unlock()
			return
		}
		pending := len(g.queue)
		g.mu.Unlock()

		if pending >= ledger.VoteHashesMax {
			g.send()
			continue
		}

		if !g.waitBatch() {
			return
		}

		g.mu.Lock()
		pending = len(g.queue)
		g.mu.Unlock()

		if pending >= g.config.Threshold && pending < ledger.VoteHashesMax {
			if !g.waitBatch() {
				return
			}
		}

		g.mu.Lock()
		pending = len(g.queue)
		g.mu.Unlock()

		if pending > 0 {
			g.send()
		}
	}
}

// waitBatch waits up to the configured delay for the queue to fill.
// Returns false if the generator is stopping.
func (g *Generator) waitBatch() bool {
	timer := time.NewTimer(g.config.Delay)
	defer timer.Stop()

	select {
	case <-g.notify:
		return true
	case <-timer.C:
		return true
	case <-g.stop:
		return false
	}
}

// signal wakes the worker without blocking.
func (g *Generator) signal() {
	select {
	case g.notify <- struct{}{}:
	default:
	}
}

// send drains up to one batch from the queue and votes on it with the
// broadcast action.
func (g *Generator) send() {
	g.mu.Lock()

	n := len(g.queue)
	if n > ledger.VoteHashesMax {
		n = ledger.VoteHashesMax
	}

	hashes := make([]ledger.Hash, 0, n)
	roots := make([]ledger.Root, 0, n)

	for _, pending := range g.queue[:n] {
		roots = append(roots, pending.root)
		hashes = append(hashes, pending.hash)
	}
	g.queue = g.queue[n:]

	if len(hashes) > 0 {
		g.vote(hashes, roots, g.broadcast)
	}

	g.reportReservations()
	g.mu.Unlock()
}

// vote signs one vote per representative over the batch and applies the
// action to each. Called with g.mu held; the lock is released during
// the ledger read and signing, reacquired to validate the reservations,
// and held again on return. A batch whose reservations vanished during
// signing is discarded whole: either every produced vote reaches the
// history and the action, or none do.
func (g *Generator) vote(hashes []ledger.Hash, roots []ledger.Root, action func(*ledger.Vote)) {
	batchHashes := append([]ledger.Hash(nil), hashes...)
	batchRoots := append([]ledger.Root(nil), roots...)

	g.mu.Unlock()

	tx := g.store.TxBeginRead()

	var votes []*ledger.Vote
	g.wallet.ForEachRepresentative(func(pub ledger.Account, priv ed25519.PrivateKey) {
		vote, err := g.store.VoteGenerate(tx, pub, priv, batchHashes)
		if err != nil {
			logger.Error("vote generation failed", "representative", pub, "err", err)
			return
		}

		votes = append(votes, vote)
	})

	tx.Close()

	g.mu.Lock()

	// Validation must follow signing. If any reservation vanished
	// mid-sign, the signed votes are not used.
	if g.reserver.ValidateAndUpdate(batchRoots) {
		logger.Debug("vote batch discarded", "hashes", len(batchHashes))
		return
	}

	g.mu.Unlock()

	for _, vote := range votes {
		for i := range batchRoots {
			g.history.Add(batchRoots[i], batchHashes[i], vote)
		}

		action(vote)
	}

	g.mu.Lock()
}

// broadcast floods a vote to principal representatives, to general peers
// with twice the usual fanout, and delivers it to the local processor.
func (g *Generator) broadcast(vote *ledger.Vote) {
	g.network.FloodVotePR(vote)
	g.network.FloodVote(vote, 2.0)
	g.processor.Vote(vote, g.self)
}

// reportReservations publishes the live reservation count. Caller holds
// g.mu.
func (g *Generator) reportReservations() {
	if g.metrics != nil {
		g.metrics.ReservationCount.Set(float64(g.reserver.Size()))
	}
}
