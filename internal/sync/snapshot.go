// Package sync implements ledger bootstrap: a node joining the network
// requests a compressed snapshot of a peer's ledger and applies it
// locally.
package sync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"

	"repnode/internal/ledger"
)

const (
	// snapshotVersion is the current snapshot format version.
	snapshotVersion = 1

	// snapshotHeaderSize is the fixed header: version plus block count.
	snapshotHeaderSize = 4 + 8

	// checksumSize is the trailing blake3 checksum length.
	checksumSize = 32
)

// blockEntry pairs a block with its hash inside a snapshot.
type blockEntry struct {
	hash  ledger.Hash   // hash is the block's identity
	block *ledger.Block // block is the full block
}

// CreateSnapshot exports every block in the store into a snapshot.
// Entries are sorted by hash so the checksum is deterministic.
func CreateSnapshot(store *ledger.Store) ([]byte, error) {
	var entries []blockEntry

	err := store.ForEachBlock(func(hash ledger.Hash, block *ledger.Block) error {
		entries = append(entries, blockEntry{hash: hash, block: block})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("export blocks:\n%w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].hash[:], entries[j].hash[:]) < 0
	})

	var buf bytes.Buffer

	var header [snapshotHeaderSize]byte
	binary.BigEndian.PutUint32(header[:4], snapshotVersion)
	binary.BigEndian.PutUint64(header[4:], uint64(len(entries)))
	buf.Write(header[:])

	for _, entry := range entries {
		buf.Write(entry.hash[:])
		buf.Write(entry.block.Serialize())
	}

	checksum := blake3.Sum256(buf.Bytes())
	buf.Write(checksum[:])

	return buf.Bytes(), nil
}

// ApplySnapshot verifies a snapshot and inserts its blocks into the
// store. Open blocks are applied first, then chain extensions in head
// order, so account infos land on the right heads. Returns the number
// of applied blocks.
func ApplySnapshot(store *ledger.Store, data []byte) (int, error) {
	entries, err := decodeSnapshot(data)
	if err != nil {
		return 0, err
	}

	var opens, rest []blockEntry
	for _, entry := range entries {
		if entry.block.IsOpen() {
			opens = append(opens, entry)
		} else {
			rest = append(rest, entry)
		}
	}

	applied := 0

	for _, entry := range opens {
		if err := store.ProcessBlock(entry.block); err != nil {
			return applied, fmt.Errorf("apply open block %s:\n%w", entry.hash, err)
		}
		applied++
	}

	// Chain extensions only advance an account head when the previous
	// block is already the head, so apply in passes until none land.
	byPrevious := make(map[ledger.Hash][]blockEntry, len(rest))
	for _, entry := range rest {
		byPrevious[entry.block.Previous] = append(byPrevious[entry.block.Previous], entry)
	}

	frontier := opens
	for len(frontier) > 0 {
		var next []blockEntry

		for _, parent := range frontier {
			for _, entry := range byPrevious[parent.hash] {
				if err := store.ProcessBlock(entry.block); err != nil {
					return applied, fmt.Errorf("apply block %s:\n%w", entry.hash, err)
				}
				applied++
				next = append(next, entry)
			}
			delete(byPrevious, parent.hash)
		}

		frontier = next
	}

	// Orphans whose parent is outside the snapshot are stored as-is.
	for _, entries := range byPrevious {
		for _, entry := range entries {
			if err := store.ProcessBlock(entry.block); err != nil {
				return applied, fmt.Errorf("apply block %s:\n%w", entry.hash, err)
			}
			applied++
		}
	}

	return applied, nil
}

// decodeSnapshot parses and verifies a snapshot.
func decodeSnapshot(data []byte) ([]blockEntry, error) {
	if len(data) < snapshotHeaderSize+checksumSize {
		return nil, fmt.Errorf("snapshot too short: %d bytes", len(data))
	}

	payload := data[:len(data)-checksumSize]
	var stored [checksumSize]byte
	copy(stored[:], data[len(payload):])

	if blake3.Sum256(payload) != stored {
		return nil, fmt.Errorf("checksum mismatch")
	}

	version := binary.BigEndian.Uint32(payload[:4])
	if version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", version)
	}

	count := binary.BigEndian.Uint64(payload[4:snapshotHeaderSize])
	body := payload[snapshotHeaderSize:]

	entrySize := ledger.HashSize + ledger.BlockSerializedSize
	if uint64(len(body)) != count*uint64(entrySize) {
		return nil, fmt.Errorf("snapshot length mismatch: %d blocks, %d bytes", count, len(body))
	}

	entries := make([]blockEntry, 0, count)

	for i := uint64(0); i < count; i++ {
		chunk := body[i*uint64(entrySize):]

		var hash ledger.Hash
		copy(hash[:], chunk[:ledger.HashSize])

		block, err := ledger.DeserializeBlock(chunk[ledger.HashSize:entrySize])
		if err != nil {
			return nil, fmt.Errorf("decode block %d:\n%w", i, err)
		}

		if block.Hash() != hash {
			return nil, fmt.Errorf("block %d hash mismatch", i)
		}

		entries = append(entries, blockEntry{hash: hash, block: block})
	}

	return entries, nil
}

// CompressSnapshot compresses snapshot data using zstd.
func CompressSnapshot(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create encoder:\n%w", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, nil), nil
}

// DecompressSnapshot decompresses zstd-compressed snapshot data.
func DecompressSnapshot(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create decoder:\n%w", err)
	}
	defer decoder.Close()

	return decoder.DecodeAll(data, nil)
}
