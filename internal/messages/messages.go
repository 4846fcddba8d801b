// Package messages defines the binary wire codec for the vote protocol:
// confirm_req (a peer asks which block is canonical), confirm_ack (a
// signed vote) and publish (a block push). Every message is a single
// type byte followed by its payload.
package messages

import (
	"fmt"

	"repnode/internal/ledger"
)

// Message types.
const (
	TypeConfirmReq = 0x01 // Request for votes over hash/root pairs
	TypeConfirmAck = 0x02 // A signed vote
	TypePublish    = 0x03 // A block push
)

// HashRoot pairs a requested block hash with its ledger root.
type HashRoot struct {
	Hash ledger.Hash // Hash is the block the peer believes canonical
	Root ledger.Root // Root is the contested ledger position
}

// ConfirmReqHashesMax caps the pairs carried by one confirm_req.
const ConfirmReqHashesMax = ledger.VoteHashesMax

// Type returns the message type of an encoded message.
func Type(data []byte) (byte, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty message")
	}

	return data[0], nil
}

// EncodeConfirmReq encodes hash/root pairs.
// Format: [1B type] [1B count] [count * (32B hash + 32B root)]
func EncodeConfirmReq(pairs []HashRoot) ([]byte, error) {
	if len(pairs) == 0 || len(pairs) > ConfirmReqHashesMax {
		return nil, fmt.Errorf("invalid confirm_req pair count: %d", len(pairs))
	}

	buf := make([]byte, 0, 2+len(pairs)*ledger.HashSize*2)
	buf = append(buf, TypeConfirmReq, byte(len(pairs)))

	for _, pair := range pairs {
		buf = append(buf, pair.Hash[:]...)
		buf = append(buf, pair.Root[:]...)
	}

	return buf, nil
}

// DecodeConfirmReq decodes hash/root pairs from a confirm_req.
func DecodeConfirmReq(data []byte) ([]HashRoot, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("confirm_req too short: %d", len(data))
	}

	if data[0] != TypeConfirmReq {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	count := int(data[1])
	if count == 0 || count > ConfirmReqHashesMax {
		return nil, fmt.Errorf("invalid confirm_req pair count: %d", count)
	}

	const pairSize = ledger.HashSize * 2
	if len(data) < 2+count*pairSize {
		return nil, fmt.Errorf("confirm_req truncated: need %d, have %d", 2+count*pairSize, len(data))
	}

	pairs := make([]HashRoot, count)
	for i := range pairs {
		offset := 2 + i*pairSize
		copy(pairs[i].Hash[:], data[offset:offset+ledger.HashSize])
		copy(pairs[i].Root[:], data[offset+ledger.HashSize:offset+pairSize])
	}

	return pairs, nil
}

// EncodeConfirmAck encodes a vote.
// Format: [1B type] [vote wire form]
func EncodeConfirmAck(vote *ledger.Vote) []byte {
	payload := vote.Serialize()

	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, TypeConfirmAck)
	buf = append(buf, payload...)

	return buf
}

// DecodeConfirmAck decodes a vote from a confirm_ack.
func DecodeConfirmAck(data []byte) (*ledger.Vote, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("confirm_ack too short: %d", len(data))
	}

	if data[0] != TypeConfirmAck {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	vote, err := ledger.DeserializeVote(data[1:])
	if err != nil {
		return nil, fmt.Errorf("decode confirm_ack vote:\n%w", err)
	}

	return vote, nil
}

// EncodePublish encodes a block push.
// Format: [1B type] [block wire form]
func EncodePublish(block *ledger.Block) []byte {
	payload := block.Serialize()

	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, TypePublish)
	buf = append(buf, payload...)

	return buf
}

// DecodePublish decodes a block from a publish.
func DecodePublish(data []byte) (*ledger.Block, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("publish too short: %d", len(data))
	}

	if data[0] != TypePublish {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	block, err := ledger.DeserializeBlock(data[1:])
	if err != nil {
		return nil, fmt.Errorf("decode published block:\n%w", err)
	}

	return block, nil
}
