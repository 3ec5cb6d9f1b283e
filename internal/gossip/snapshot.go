package gossip

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// snapshotPrefix starts every version 1 rapid gossip sync snapshot.
var snapshotPrefix = []byte{'L', 'D', 'K', 1}

// snapshotHeaderSize covers the prefix, the chain hash and the timestamp.
const snapshotHeaderSize = 4 + 32 + 4

// SnapshotTimestamp reads the latest-seen timestamp from a snapshot header
// without decoding the rest of it.
func SnapshotTimestamp(data []byte) (uint32, error) {
	if len(data) < snapshotHeaderSize {
		return 0, fmt.Errorf("snapshot too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:4], snapshotPrefix) {
		return 0, fmt.Errorf("unknown snapshot prefix %x", data[:4])
	}
	return binary.BigEndian.Uint32(data[36:40]), nil
}
