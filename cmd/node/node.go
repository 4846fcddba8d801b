package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"repnode/internal/aggregator"
	"repnode/internal/api"
	"repnode/internal/elections"
	"repnode/internal/genesis"
	"repnode/internal/ledger"
	"repnode/internal/logger"
	"repnode/internal/network"
	"repnode/internal/stats"
	"repnode/internal/sync"
	"repnode/internal/voting"
	"repnode/internal/wallet"
)

const (
	// bootstrapTimeout bounds the snapshot pull at startup.
	bootstrapTimeout = 2 * time.Minute
)

// Node is a running representative node.
type Node struct {
	cfg *Config

	store      *ledger.Store
	metrics    *stats.Stats
	wallet     *wallet.Wallet
	elections  *elections.Tracker
	history    *voting.History
	processor  *voting.VoteProcessor
	generator  *voting.Generator
	aggregator *aggregator.Aggregator
	network    *network.Node
	snapshots  *sync.Manager
	api        *api.Server
}

// NewNode creates and wires a node.
func NewNode(cfg *Config) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initStore(); err != nil {
		return nil, err
	}

	if cfg.Genesis {
		if _, err := genesis.Create(n.store, genesis.Config{
			PrivateKey:  cfg.PrivateKey,
			InitialMint: cfg.InitialMint,
		}); err != nil {
			n.Close()
			return nil, err
		}
	}

	n.initVoting()

	if err := n.initNetwork(); err != nil {
		n.Close()
		return nil, err
	}

	n.initAggregation()

	n.snapshots = sync.NewManager(n.store, 0)
	n.api = api.New(cfg.HTTPAddress, n, n.network, n, n.metrics.Registry())

	return n, nil
}

// initStore opens the ledger store.
func (n *Node) initStore() error {
	if err := os.MkdirAll(n.cfg.DataPath, 0755); err != nil {
		return fmt.Errorf("create data directory:\n%w", err)
	}

	store, err := ledger.NewStore(n.cfg.DataPath + "/db")
	if err != nil {
		return fmt.Errorf("init ledger store:\n%w", err)
	}

	n.store = store

	return nil
}

// initVoting builds the vote-issuing components: wallet, elections,
// history and processor. The generator follows once the network exists.
func (n *Node) initVoting() {
	n.metrics = stats.New()
	n.wallet = wallet.New(n.accountWeight, n.cfg.VoteMinimum)
	n.elections = elections.NewTracker(n.accountWeight)
	n.history = voting.NewHistory()
	n.processor = voting.NewVoteProcessor(n.elections)

	n.wallet.InsertAdhoc(n.cfg.PrivateKey)
}

// initNetwork starts the QUIC layer and the vote generator on top of it.
func (n *Node) initNetwork() error {
	net, err := network.NewNode(network.Config{
		PrivateKey: n.cfg.PrivateKey,
		ListenAddr: n.cfg.QUICAddress,
	})
	if err != nil {
		return fmt.Errorf("init network:\n%w", err)
	}

	n.network = net

	loopback := network.NewLoopback("local", func(data []byte) {
		n.routeMessage(nil, data)
	})

	n.generator = voting.NewGenerator(
		voting.GeneratorConfig{Delay: n.cfg.VoteDelay, Threshold: n.cfg.VoteThreshold},
		n.store,
		n.wallet,
		n.processor,
		n.history,
		n.network,
		loopback,
		n.cfg.RoundTime,
		n.metrics,
	)

	net.OnMessage(func(peer *network.Peer, data []byte) {
		n.routeMessage(peer, data)
	})

	net.OnConnect(func(peer *network.Peer) {
		logger.Info("peer connected", "addr", peer.Address())
	})

	net.OnDisconnect(func(peer *network.Peer) {
		logger.Info("peer disconnected", "addr", peer.Address())
	})

	return nil
}

// initAggregation starts the request aggregator and wires the snapshot
// request handler.
func (n *Node) initAggregation() {
	n.aggregator = aggregator.New(
		aggregator.Config{
			MaxDelay:           n.cfg.MaxDelay,
			SmallDelay:         n.cfg.SmallDelay,
			MaxChannelRequests: n.cfg.MaxChannelRequests,
		},
		n.store,
		n.elections,
		n.history,
		n.generator,
		n.metrics,
	)

	n.network.OnRequest(func(peer *network.Peer, data []byte) ([]byte, error) {
		return n.snapshots.HandleRequest(data)
	})
}

// accountWeight returns an account's voting weight: the balance at its
// chain head.
func (n *Node) accountWeight(account ledger.Account) uint64 {
	tx := n.store.TxBeginRead()
	defer tx.Close()

	info, ok := n.store.AccountGet(tx, account)
	if !ok {
		return 0
	}

	return info.Balance
}

// Run starts the node and blocks until a termination signal.
func (n *Node) Run() error {
	if err := n.network.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start network:\n%w", err)
	}

	for _, addr := range n.cfg.PeerAddrs {
		if _, err := n.network.Connect(addr); err != nil {
			logger.Warn("peer connect failed", "addr", addr, "err", err)
		}
	}

	if n.cfg.BootstrapAddr != "" {
		if err := n.bootstrap(); err != nil {
			n.Close()
			return fmt.Errorf("bootstrap:\n%w", err)
		}
	}

	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	n.Close()

	return nil
}

// bootstrap pulls a ledger snapshot from the configured peer.
func (n *Node) bootstrap() error {
	peer, err := n.network.Connect(n.cfg.BootstrapAddr)
	if err != nil {
		return fmt.Errorf("connect bootstrap peer:\n%w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer cancel()

	_, err = sync.Bootstrap(ctx, peer, n.store)

	return err
}

// Close shuts the node down in dependency order: inbound work first,
// then vote production, then the transports and the store.
func (n *Node) Close() {
	if n.aggregator != nil {
		n.aggregator.Stop()
	}

	if n.generator != nil {
		n.generator.Stop()
	}

	if n.snapshots != nil {
		n.snapshots.Stop()
	}

	if n.api != nil {
		n.api.Stop()
	}

	if n.network != nil {
		n.network.Close()
	}

	if n.store != nil {
		n.store.Close()
	}
}

// SubmitBlock stores a locally submitted block and opens its contest.
func (n *Node) SubmitBlock(block *ledger.Block) error {
	if err := n.store.ProcessBlock(block); err != nil {
		return err
	}

	n.elections.Start(block)

	return nil
}

// HistorySize returns the number of cached votes.
func (n *Node) HistorySize() int {
	return n.history.Size()
}

// PoolCount returns the number of pending aggregator pools.
func (n *Node) PoolCount() int {
	return n.aggregator.Size()
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return n.network.PeerCount()
}

// ReservationCount returns the number of live vote reservations.
func (n *Node) ReservationCount() int {
	return n.generator.ReservationCount()
}

// VotingReps returns the number of representatives eligible to vote.
func (n *Node) VotingReps() uint64 {
	return n.wallet.Reps().Voting
}
