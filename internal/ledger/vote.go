package ledger

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// VoteHashesMax is the maximum number of block hashes a single vote covers.
	// It matches the confirm_ack wire cap.
	VoteHashesMax = 12
)

// voteDigestPrefix domain-separates multi-hash vote digests from plain block hashes.
var voteDigestPrefix = []byte("vote ")

// Vote is a representative's signed attestation that a set of block hashes
// is canonical. Votes are immutable after construction.
type Vote struct {
	Account   Account   // Account is the representative's public key
	Signature Signature // Signature is the ed25519 signature over Digest()
	Sequence  uint64    // Sequence orders votes from the same representative
	Hashes    []Hash    // Hashes are the attested block hashes (1 to VoteHashesMax)
}

// NewVote constructs and signs a vote over the given hashes.
func NewVote(account Account, priv ed25519.PrivateKey, sequence uint64, hashes []Hash) (*Vote, error) {
	if len(hashes) == 0 {
		return nil, fmt.Errorf("vote must cover at least one hash")
	}

	if len(hashes) > VoteHashesMax {
		return nil, fmt.Errorf("vote covers %d hashes, max %d", len(hashes), VoteHashesMax)
	}

	v := &Vote{
		Account:  account,
		Sequence: sequence,
		Hashes:   append([]Hash(nil), hashes...),
	}

	digest := v.Digest()
	copy(v.Signature[:], ed25519.Sign(priv, digest[:]))

	return v, nil
}

// Digest returns the blake2b digest the signature covers: the attested
// hashes followed by the sequence in little-endian form. Votes over more
// than one hash carry a domain-separation prefix.
func (v *Vote) Digest() Hash {
	h, _ := blake2b.New256(nil)

	if len(v.Hashes) > 1 {
		h.Write(voteDigestPrefix)
	}

	for _, hash := range v.Hashes {
		h.Write(hash[:])
	}

	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], v.Sequence)
	h.Write(seq[:])

	var result Hash
	h.Sum(result[:0])

	return result
}

// FullHash identifies the vote for deduplication: blake2b over the digest,
// the account and the signature.
func (v *Vote) FullHash() Hash {
	digest := v.Digest()

	h, _ := blake2b.New256(nil)
	h.Write(digest[:])
	h.Write(v.Account[:])
	h.Write(v.Signature[:])

	var result Hash
	h.Sum(result[:0])

	return result
}

// Validate checks the vote's signature against its account.
// Returns nil if the signature is valid.
func (v *Vote) Validate() error {
	if len(v.Hashes) == 0 || len(v.Hashes) > VoteHashesMax {
		return fmt.Errorf("invalid hash count: %d", len(v.Hashes))
	}

	digest := v.Digest()
	if !ed25519.Verify(ed25519.PublicKey(v.Account[:]), digest[:], v.Signature[:]) {
		return fmt.Errorf("invalid vote signature from %s", v.Account)
	}

	return nil
}

// Covers returns true if the vote attests the given hash.
func (v *Vote) Covers(hash Hash) bool {
	for _, h := range v.Hashes {
		if h == hash {
			return true
		}
	}

	return false
}

// Serialize encodes the vote to its wire form:
// [32B account] [64B signature] [8B sequence LE] [1B count] [count * 32B hashes]
func (v *Vote) Serialize() []byte {
	buf := make([]byte, 0, HashSize+SignatureSize+8+1+len(v.Hashes)*HashSize)

	buf = append(buf, v.Account[:]...)
	buf = append(buf, v.Signature[:]...)

	var seq [8]byte
	binary.LittleEndian.PutUint64(seq[:], v.Sequence)
	buf = append(buf, seq[:]...)

	buf = append(buf, byte(len(v.Hashes)))

	for _, hash := range v.Hashes {
		buf = append(buf, hash[:]...)
	}

	return buf
}

// DeserializeVote decodes a vote from its wire form.
func DeserializeVote(data []byte) (*Vote, error) {
	buf := bytes.NewReader(data)
	v := &Vote{}

	if err := readExact(buf, v.Account[:]); err != nil {
		return nil, fmt.Errorf("read vote account:\n%w", err)
	}

	if err := readExact(buf, v.Signature[:]); err != nil {
		return nil, fmt.Errorf("read vote signature:\n%w", err)
	}

	var seq [8]byte
	if err := readExact(buf, seq[:]); err != nil {
		return nil, fmt.Errorf("read vote sequence:\n%w", err)
	}
	v.Sequence = binary.LittleEndian.Uint64(seq[:])

	count, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("read vote hash count:\n%w", err)
	}

	if count == 0 || int(count) > VoteHashesMax {
		return nil, fmt.Errorf("invalid vote hash count: %d", count)
	}

	v.Hashes = make([]Hash, count)
	for i := range v.Hashes {
		if err := readExact(buf, v.Hashes[i][:]); err != nil {
			return nil, fmt.Errorf("read vote hash %d:\n%w", i, err)
		}
	}

	return v, nil
}

// Equal reports whether two votes have identical contents.
func (v *Vote) Equal(other *Vote) bool {
	if v.Account != other.Account || v.Signature != other.Signature || v.Sequence != other.Sequence {
		return false
	}

	if len(v.Hashes) != len(other.Hashes) {
		return false
	}

	for i := range v.Hashes {
		if v.Hashes[i] != other.Hashes[i] {
			return false
		}
	}

	return true
}
