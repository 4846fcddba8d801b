package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Block is a single entry in an account chain. An open block (zero
// Previous) starts a chain; every other block extends its predecessor.
type Block struct {
	Account        Account   // Account is the chain owner's public key
	Previous       Hash      // Previous is the preceding block's hash (zero for open blocks)
	Representative Account   // Representative receives the account's delegated voting weight
	Balance        uint64    // Balance is the account balance after this block
	Link           Hash      // Link references a counterpart block or receive source
	Signature      Signature // Signature is the account owner's signature over Hash()
}

// Root returns the ledger position this block contends for: the previous
// block hash, or the account for open blocks.
func (b *Block) Root() Root {
	if b.Previous.IsZero() {
		return Root(b.Account)
	}

	return Root(b.Previous)
}

// IsOpen returns true if the block starts its account chain.
func (b *Block) IsOpen() bool {
	return b.Previous.IsZero()
}

// Hash returns the blake2b digest identifying the block.
func (b *Block) Hash() Hash {
	h, _ := blake2b.New256(nil)

	h.Write(b.Account[:])
	h.Write(b.Previous[:])
	h.Write(b.Representative[:])

	var balance [8]byte
	binary.BigEndian.PutUint64(balance[:], b.Balance)
	h.Write(balance[:])

	h.Write(b.Link[:])

	var result Hash
	h.Sum(result[:0])

	return result
}

// Sign signs the block with the account owner's private key.
func (b *Block) Sign(priv ed25519.PrivateKey) {
	hash := b.Hash()
	copy(b.Signature[:], ed25519.Sign(priv, hash[:]))
}

// Validate checks the block's signature against its account.
func (b *Block) Validate() error {
	hash := b.Hash()
	if !ed25519.Verify(ed25519.PublicKey(b.Account[:]), hash[:], b.Signature[:]) {
		return fmt.Errorf("invalid block signature from %s", b.Account)
	}

	return nil
}

// BlockSerializedSize is the fixed wire size of a block.
const BlockSerializedSize = HashSize*4 + 8 + SignatureSize

// Serialize encodes the block to its wire form.
func (b *Block) Serialize() []byte {
	buf := make([]byte, 0, BlockSerializedSize)

	buf = append(buf, b.Account[:]...)
	buf = append(buf, b.Previous[:]...)
	buf = append(buf, b.Representative[:]...)

	var balance [8]byte
	binary.BigEndian.PutUint64(balance[:], b.Balance)
	buf = append(buf, balance[:]...)

	buf = append(buf, b.Link[:]...)
	buf = append(buf, b.Signature[:]...)

	return buf
}

// DeserializeBlock decodes a block from its wire form.
func DeserializeBlock(data []byte) (*Block, error) {
	if len(data) < BlockSerializedSize {
		return nil, fmt.Errorf("block too short: got %d, want %d", len(data), BlockSerializedSize)
	}

	buf := bytes.NewReader(data)
	b := &Block{}

	readExact(buf, b.Account[:])
	readExact(buf, b.Previous[:])
	readExact(buf, b.Representative[:])

	var balance [8]byte
	readExact(buf, balance[:])
	b.Balance = binary.BigEndian.Uint64(balance[:])

	readExact(buf, b.Link[:])
	readExact(buf, b.Signature[:])

	return b, nil
}
