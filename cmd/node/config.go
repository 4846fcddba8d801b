package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the node configuration.
type Config struct {
	// DataPath is the directory for persistent storage.
	DataPath string

	// HTTPAddress is the HTTP API listen address.
	HTTPAddress string

	// QUICAddress is the QUIC P2P listen address.
	QUICAddress string

	// KeyPath is the path to the Ed25519 private key file.
	KeyPath string

	// PrivateKey is the node's Ed25519 identity key.
	PrivateKey ed25519.PrivateKey

	// PeerAddrs are addresses of peers to connect to at startup.
	PeerAddrs []string

	// BootstrapAddr is a peer to pull a ledger snapshot from.
	BootstrapAddr string

	// Genesis seeds a fresh ledger with the node's account.
	Genesis bool

	// InitialMint is the genesis account balance.
	InitialMint uint64

	// TestNetwork selects the short timing profile.
	TestNetwork bool

	// VoteDelay is the generator's batch wait.
	VoteDelay time.Duration

	// VoteThreshold arms the generator's second wait phase.
	VoteThreshold int

	// MaxChannelRequests caps entries in one peer's request pool.
	MaxChannelRequests int

	// VoteMinimum is the weight a held key needs to vote.
	VoteMinimum uint64

	// PRWeight is the weight above which a peer's representative is
	// treated as principal.
	PRWeight uint64

	// RoundTime is the minimum vote regeneration interval per root.
	RoundTime time.Duration

	// MaxDelay is the maximum age of an aggregator pool.
	MaxDelay time.Duration

	// SmallDelay is the aggregator's per-addition coalescing window.
	SmallDelay time.Duration
}

// parseFlags parses command-line flags into Config.
func parseFlags() *Config {
	cfg := &Config{}

	var peers string

	flag.StringVar(&cfg.DataPath, "data", "./data", "Data directory path")
	flag.StringVar(&cfg.HTTPAddress, "http", ":8080", "HTTP API address")
	flag.StringVar(&cfg.QUICAddress, "quic", ":9000", "QUIC P2P address")
	flag.StringVar(&cfg.KeyPath, "key", "", "Ed25519 private key path (generates new if missing)")
	flag.StringVar(&peers, "peers", "", "Comma-separated peer addresses to connect to")
	flag.StringVar(&cfg.BootstrapAddr, "bootstrap-addr", "", "Peer address to pull a ledger snapshot from")
	flag.BoolVar(&cfg.Genesis, "genesis", false, "Seed a fresh ledger with this node's account")
	flag.Uint64Var(&cfg.InitialMint, "initial-mint", 1_000_000_000, "Genesis account balance")
	flag.BoolVar(&cfg.TestNetwork, "test-network", false, "Use the short test timing profile")
	flag.DurationVar(&cfg.VoteDelay, "vote-delay", 100*time.Millisecond, "Vote generator batch wait")
	flag.IntVar(&cfg.VoteThreshold, "vote-threshold", 6, "Queue size arming the generator's second wait")
	flag.IntVar(&cfg.MaxChannelRequests, "max-channel-requests", 4096, "Per-peer request pool cap")
	flag.Uint64Var(&cfg.VoteMinimum, "vote-minimum", 0, "Weight a held key needs to vote")
	flag.Uint64Var(&cfg.PRWeight, "pr-weight", 1_000_000, "Weight marking a representative as principal")
	flag.Parse()

	cfg.PeerAddrs = splitPeers(peers)
	cfg.applyProfile()

	return cfg
}

// applyProfile sets the timing constants for the selected network.
func (cfg *Config) applyProfile() {
	if cfg.TestNetwork {
		cfg.RoundTime = time.Second
		cfg.MaxDelay = 50 * time.Millisecond
		cfg.SmallDelay = 10 * time.Millisecond
		return
	}

	cfg.RoundTime = 45 * time.Second
	cfg.MaxDelay = 300 * time.Millisecond
	cfg.SmallDelay = 50 * time.Millisecond
}

// splitPeers parses a comma-separated address list.
func splitPeers(s string) []string {
	var addrs []string

	for _, addr := range strings.Split(s, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			addrs = append(addrs, addr)
		}
	}

	return addrs
}

// loadOrGenerateKey loads the private key from file or generates a new one.
func loadOrGenerateKey(keyPath string) (ed25519.PrivateKey, error) {
	if keyPath == "" {
		return generateNewKey()
	}

	data, err := os.ReadFile(keyPath)
	if os.IsNotExist(err) {
		return generateAndSaveKey(keyPath)
	}

	if err != nil {
		return nil, fmt.Errorf("read key file:\n%w", err)
	}

	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}

	return ed25519.PrivateKey(data), nil
}

// generateNewKey creates a new Ed25519 private key.
func generateNewKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key:\n%w", err)
	}

	return priv, nil
}

// generateAndSaveKey creates a new key and saves it to the given path.
func generateAndSaveKey(path string) (ed25519.PrivateKey, error) {
	priv, err := generateNewKey()
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, priv, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s:\n%w", path, err)
	}

	return priv, nil
}
