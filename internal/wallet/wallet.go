// Package wallet holds the node's representative signing keys and
// exposes the enumeration surface the vote generator iterates.
package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"repnode/internal/ledger"
	"repnode/internal/logger"
)

// RepCounts summarizes the wallet's representatives.
type RepCounts struct {
	Voting uint64 // Voting is the number of representatives eligible to vote
	Held   uint64 // Held is the total number of keys in the wallet
}

// Wallet is an in-memory set of representative keys. The wallet has its
// own lock; callers never hold another component's lock across a wallet
// iteration.
type Wallet struct {
	mu   sync.Mutex                           // mu protects keys
	keys map[ledger.Account]ed25519.PrivateKey // keys maps account to its signing key

	weight    func(ledger.Account) uint64 // weight returns delegated weight, nil means unchecked
	voteMinimum uint64                    // voteMinimum is the weight needed to vote
}

// New creates an empty wallet. The weight function and minimum gate which
// held keys count as voting representatives; a nil weight function lets
// every held key vote.
func New(weight func(ledger.Account) uint64, voteMinimum uint64) *Wallet {
	return &Wallet{
		keys:        make(map[ledger.Account]ed25519.PrivateKey),
		weight:      weight,
		voteMinimum: voteMinimum,
	}
}

// InsertAdhoc adds a signing key to the wallet.
func (w *Wallet) InsertAdhoc(priv ed25519.PrivateKey) ledger.Account {
	var account ledger.Account
	copy(account[:], priv.Public().(ed25519.PublicKey))

	w.mu.Lock()
	w.keys[account] = priv
	w.mu.Unlock()

	logger.Debug("wallet key inserted", "account", account)

	return account
}

// GenerateAdhoc creates and inserts a fresh key.
func (w *Wallet) GenerateAdhoc() (ledger.Account, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("generate wallet key:\n%w", err)
	}

	return w.InsertAdhoc(priv), nil
}

// ForEachRepresentative calls fn for every voting representative held by
// the wallet. The wallet lock is held for the duration; fn must not call
// back into the wallet.
func (w *Wallet) ForEachRepresentative(fn func(pub ledger.Account, priv ed25519.PrivateKey)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for account, priv := range w.keys {
		if w.votingLocked(account) {
			fn(account, priv)
		}
	}
}

// Reps returns the wallet's representative counts.
func (w *Wallet) Reps() RepCounts {
	w.mu.Lock()
	defer w.mu.Unlock()

	counts := RepCounts{Held: uint64(len(w.keys))}

	for account := range w.keys {
		if w.votingLocked(account) {
			counts.Voting++
		}
	}

	return counts
}

// Exists returns true if the wallet holds a key for the account.
func (w *Wallet) Exists(account ledger.Account) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.keys[account]

	return ok
}

// votingLocked reports voting eligibility. Caller holds w.mu.
func (w *Wallet) votingLocked(account ledger.Account) bool {
	if w.weight == nil {
		return true
	}

	return w.weight(account) >= w.voteMinimum
}
