// Package aggregator pools peer vote requests per channel, normalizes
// them against ledger and election state and serves them from the vote
// cache or the generator.
package aggregator

import (
	"sync"
	"time"

	"repnode/internal/ledger"
	"repnode/internal/logger"
	"repnode/internal/messages"
	"repnode/internal/stats"
	"repnode/internal/voting"
)

// Generator produces votes for normalized requests.
type Generator interface {
	Generate(requests []messages.HashRoot, action func(*ledger.Vote))
}

// Winners resolves a candidate hash to the leading block of its contest.
type Winners interface {
	Winner(hash ledger.Hash) (ledger.Hash, bool)
}

// Config carries the aggregator's tunables.
type Config struct {
	MaxDelay           time.Duration // MaxDelay is the maximum age of a pool
	SmallDelay         time.Duration // SmallDelay is the per-addition coalescing window
	MaxChannelRequests int           // MaxChannelRequests caps entries per pool
}

// channelPool is one peer's pending requests.
type channelPool struct {
	channel  voting.Channel      // channel delivers replies to the peer
	start    time.Time           // start is the pool's creation instant
	deadline time.Time           // deadline is when the pool becomes processable
	requests []messages.HashRoot // requests are the pending hash/root pairs
}

// Aggregator owns the per-peer pools and the worker that drains them in
// deadline order.
type Aggregator struct {
	mu      sync.Mutex              // mu protects pools and stopped
	pools   map[string]*channelPool // pools indexes buckets by peer endpoint
	stopped bool                    // stopped is set once Stop begins

	config    Config          // config holds the tunables
	store     *ledger.Store   // store resolves blocks and successors
	elections Winners         // elections supplies contest winners
	history   *voting.History // history serves cached votes
	generator Generator       // generator produces missing votes
	metrics   *stats.Stats    // metrics carries the request counters, may be nil

	notify chan struct{}  // notify wakes the worker on the first pool
	stop   chan struct{}  // stop terminates the worker
	wg     sync.WaitGroup // wg joins the worker
}

// New creates a request aggregator and starts its worker.
func New(config Config, store *ledger.Store, elections Winners, history *voting.History, generator Generator, metrics *stats.Stats) *Aggregator {
	a := &Aggregator{
		pools:     make(map[string]*channelPool),
		config:    config,
		store:     store,
		elections: elections,
		history:   history,
		generator: generator,
		metrics:   metrics,
		notify:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()

	return a
}

// Add enqueues a peer's request batch into its pool. Batches are shed
// when the worker has fallen behind or when the pool is full. Callers
// must hold at least one voting representative.
func (a *Aggregator) Add(channel voting.Channel, requests []messages.HashRoot) {
	if len(requests) == 0 {
		return
	}

	now := time.Now()
	endpoint := channel.Endpoint()

	a.mu.Lock()

	if len(a.pools) > 0 {
		oldest := a.earliestLocked()
		if oldest.deadline.Add(2 * a.config.MaxDelay).Before(now) {
			a.mu.Unlock()
			a.dropped()
			logger.Debug("request batch shed", "endpoint", endpoint, "requests", len(requests))
			return
		}
	}

	pool, ok := a.pools[endpoint]
	if !ok {
		pool = &channelPool{channel: channel, start: now}
		a.pools[endpoint] = pool
	}

	if len(pool.requests)+len(requests) > a.config.MaxChannelRequests {
		if len(pool.requests) == 0 {
			delete(a.pools, endpoint)
		}
		a.mu.Unlock()
		a.dropped()
		logger.Debug("request pool full", "endpoint", endpoint, "requests", len(requests))
		return
	}

	pool.requests = append(pool.requests, requests...)

	deadline := pool.start.Add(a.config.MaxDelay)
	if small := now.Add(a.config.SmallDelay); small.Before(deadline) {
		deadline = small
	}
	pool.deadline = deadline

	first := len(a.pools) == 1 && !ok
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.AggregatorAccepted.Inc()
	}

	if first {
		a.signal()
	}
}

// Size returns the number of pools awaiting processing.
func (a *Aggregator) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pools)
}

// Empty returns true if no pool is pending.
func (a *Aggregator) Empty() bool {
	return a.Size() == 0
}

// Stop terminates the worker and waits for it to exit.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		return
	}
	a.stopped = true
	a.mu.Unlock()

	close(a.stop)
	a.wg.Wait()
}

// run is the worker loop. Pools are drained one at a time in deadline
// order; processing happens outside the lock.
func (a *Aggregator) run() {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		if a.stopped {
			a.mu.Unlock()
			return
		}

		if len(a.pools) == 0 {
			a.mu.Unlock()
			if !a.wait(a.config.SmallDelay) {
				return
			}
			continue
		}

		endpoint, pool := "", (*channelPool)(nil)
		for e, p := range a.pools {
			if pool == nil || p.deadline.Before(pool.deadline) {
				endpoint, pool = e, p
			}
		}

		if remaining := time.Until(pool.deadline); remaining > 0 {
			a.mu.Unlock()
			if !a.wait(remaining) {
				return
			}
			continue
		}

		channel := pool.channel
		requests := pool.requests
		delete(a.pools, endpoint)
		a.mu.Unlock()

		a.process(channel, requests)
	}
}

// wait sleeps up to the given duration, waking early on notify. Returns
// false if the aggregator is stopping.
func (a *Aggregator) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-a.notify:
		return true
	case <-timer.C:
		return true
	case <-a.stop:
		return false
	}
}

// signal wakes the worker without blocking.
func (a *Aggregator) signal() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// earliestLocked returns the pool with the earliest deadline. Caller
// holds a.mu and guarantees at least one pool.
func (a *Aggregator) earliestLocked() *channelPool {
	var earliest *channelPool
	for _, pool := range a.pools {
		if earliest == nil || pool.deadline.Before(earliest.deadline) {
			earliest = pool
		}
	}

	return earliest
}

// process normalizes one drained pool, serves what the vote cache
// covers and hands the rest to the generator.
func (a *Aggregator) process(channel voting.Channel, requests []messages.HashRoot) {
	normalized := a.normalize(channel, requests)

	residual := normalized[:0]
	sent := make(map[ledger.Hash]struct{})

	for _, request := range normalized {
		votes := a.history.VotesFor(request.Root, request.Hash)
		if len(votes) == 0 {
			residual = append(residual, request)
			continue
		}

		for _, vote := range votes {
			full := vote.FullHash()
			if _, done := sent[full]; done {
				continue
			}
			sent[full] = struct{}{}

			a.reply(channel, vote)
			if a.metrics != nil {
				a.metrics.RequestsCachedVotes.Inc()
			}
		}

		if a.metrics != nil {
			a.metrics.RequestsCachedHashes.Inc()
		}
	}

	if len(residual) == 0 {
		return
	}

	if a.metrics != nil {
		a.metrics.RequestsGeneratedHashes.Add(float64(len(residual)))
	}

	a.generator.Generate(residual, func(vote *ledger.Vote) {
		a.reply(channel, vote)
		if a.metrics != nil {
			a.metrics.RequestsGeneratedVotes.Inc()
		}
	})
}

// normalize canonicalizes each request against election and ledger
// state. Requests for blocks the node cannot resolve are dropped; a
// peer requesting a superseded block is sent the successor and the
// request is retargeted at it.
func (a *Aggregator) normalize(channel voting.Channel, requests []messages.HashRoot) []messages.HashRoot {
	tx := a.store.TxBeginRead()
	defer tx.Close()

	out := make([]messages.HashRoot, 0, len(requests))

	for _, request := range requests {
		if winner, ok := a.elections.Winner(request.Hash); ok {
			out = append(out, messages.HashRoot{Hash: winner, Root: request.Root})
			continue
		}

		if a.store.BlockExists(tx, request.Hash) {
			out = append(out, request)
			continue
		}

		successor := a.store.BlockSuccessor(tx, request.Root)
		if successor.IsZero() {
			if info, ok := a.store.AccountGet(tx, request.Root.Account()); ok {
				successor = info.OpenBlock
			}
		}

		if successor.IsZero() {
			if a.metrics != nil {
				a.metrics.RequestsUnknown.Inc()
			}
			continue
		}

		if successor != request.Hash {
			if block := a.store.BlockGet(tx, successor); block != nil {
				if err := channel.Send(messages.EncodePublish(block)); err != nil {
					logger.Debug("publish send failed", "endpoint", channel.Endpoint(), "err", err)
				}
			}
		}

		out = append(out, messages.HashRoot{Hash: successor, Root: request.Root})
	}

	return out
}

// reply sends one vote to the peer as a confirm ack.
func (a *Aggregator) reply(channel voting.Channel, vote *ledger.Vote) {
	if err := channel.Send(messages.EncodeConfirmAck(vote)); err != nil {
		logger.Debug("confirm ack send failed", "endpoint", channel.Endpoint(), "err", err)
	}
}

// dropped counts one shed batch.
func (a *Aggregator) dropped() {
	if a.metrics != nil {
		a.metrics.AggregatorDropped.Inc()
	}
}
