package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

const (
	// HashSize is the size of a block hash in bytes.
	HashSize = 32

	// SignatureSize is the size of an ed25519 signature in bytes.
	SignatureSize = 64
)

// Hash identifies a block.
type Hash [HashSize]byte

// Root identifies a ledger position: the previous block hash for existing
// account chains, or the account itself for chains that have no block yet.
type Root [HashSize]byte

// Account is a representative's ed25519 public key.
type Account [HashSize]byte

// Signature is an ed25519 signature.
type Signature [SignatureSize]byte

// IsZero returns true if the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero returns true if the root is all zeroes.
func (r Root) IsZero() bool {
	return r == Root{}
}

// String returns the hex encoding of the root.
func (r Root) String() string {
	return hex.EncodeToString(r[:])
}

// Account reinterprets the root as an account identifier.
// Used when a root has no successor and may name an unopened chain.
func (r Root) Account() Account {
	return Account(r)
}

// String returns the hex encoding of the account.
func (a Account) String() string {
	return hex.EncodeToString(a[:])
}

// HashFromHex parses a 64-character hex string into a Hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash

	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash hex:\n%w", err)
	}

	if len(raw) != HashSize {
		return h, fmt.Errorf("invalid hash length: got %d, want %d", len(raw), HashSize)
	}

	copy(h[:], raw)

	return h, nil
}

// readExact reads exactly len(dst) bytes from the buffer.
func readExact(buf *bytes.Reader, dst []byte) error {
	n, err := buf.Read(dst)
	if err != nil {
		return err
	}

	if n != len(dst) {
		return fmt.Errorf("short read: got %d, want %d", n, len(dst))
	}

	return nil
}
