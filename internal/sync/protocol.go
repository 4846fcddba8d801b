package sync

// typeSnapshotRequest identifies a snapshot request on a
// bidirectional stream.
const typeSnapshotRequest = 0x10

// EncodeSnapshotRequest builds a snapshot request message.
func EncodeSnapshotRequest() []byte {
	return []byte{typeSnapshotRequest}
}

// IsSnapshotRequest reports whether the data is a snapshot request.
func IsSnapshotRequest(data []byte) bool {
	return len(data) == 1 && data[0] == typeSnapshotRequest
}
