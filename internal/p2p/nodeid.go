// Package p2p dials Lightning peers and hands the connections to the
// engine's peer manager.
package p2p

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// NodeIDSize is the length of a compressed secp256k1 public key.
const NodeIDSize = 33

// NodeID is a Lightning node's compressed public key.
type NodeID [NodeIDSize]byte

// NodeIDFromBytes validates b as a compressed public key.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDSize {
		return id, fmt.Errorf("node id: want %d bytes, got %d", NodeIDSize, len(b))
	}
	if _, err := secp256k1.ParsePubKey(b); err != nil {
		return id, fmt.Errorf("node id: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// ParseNodeID parses a hex-encoded compressed public key.
func ParseNodeID(s string) (NodeID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("node id: %w", err)
	}
	return NodeIDFromBytes(b)
}

// PubKey returns the parsed key.
func (id NodeID) PubKey() (*secp256k1.PublicKey, error) {
	return secp256k1.ParsePubKey(id[:])
}

// IsZero reports whether id is unset.
func (id NodeID) IsZero() bool {
	return id == NodeID{}
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
