// Package genesis seeds a fresh ledger with its first account.
package genesis

import (
	"crypto/ed25519"
	"fmt"

	"repnode/internal/ledger"
	"repnode/internal/logger"
)

// Config holds the genesis configuration for a new network.
type Config struct {
	// PrivateKey is the genesis account's Ed25519 key.
	PrivateKey ed25519.PrivateKey

	// InitialMint is the balance created for the genesis account.
	InitialMint uint64
}

// Create builds, signs and stores the genesis open block. The genesis
// account represents itself. Creation is idempotent: if the account
// already exists the stored open block is returned.
func Create(store *ledger.Store, cfg Config) (*ledger.Block, error) {
	if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: %d", len(cfg.PrivateKey))
	}

	var account ledger.Account
	copy(account[:], cfg.PrivateKey.Public().(ed25519.PublicKey))

	tx := store.TxBeginRead()
	info, exists := store.AccountGet(tx, account)
	tx.Close()

	if exists {
		rtx := store.TxBeginRead()
		defer rtx.Close()

		block := store.BlockGet(rtx, info.OpenBlock)
		if block == nil {
			return nil, fmt.Errorf("genesis account exists but open block %s is missing", info.OpenBlock)
		}

		return block, nil
	}

	block := &ledger.Block{
		Account:        account,
		Representative: account,
		Balance:        cfg.InitialMint,
	}
	block.Sign(cfg.PrivateKey)

	if err := store.ProcessBlock(block); err != nil {
		return nil, fmt.Errorf("store genesis block:\n%w", err)
	}

	logger.Info("genesis created", "account", account, "balance", cfg.InitialMint)

	return block, nil
}
