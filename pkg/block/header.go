// Package block defines the Bitcoin block header as reported by the
// block source and forwarded to the consensus engine.
package block

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/lnsync/pkg/types"
)

// HeaderSize is the serialized size of a block header.
const HeaderSize = wire.MaxBlockHeaderPayload

// Header is a Bitcoin block header.
type Header struct {
	wire.BlockHeader
}

// Hash returns the block hash.
func (h *Header) Hash() types.Hash {
	return types.Hash(h.BlockHash())
}

// Bytes returns the 80-byte wire encoding.
func (h *Header) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	// Writes to a bytes.Buffer cannot fail.
	_ = h.Serialize(&buf)
	return buf.Bytes()
}

// ParseHeader decodes an 80-byte serialized header.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, fmt.Errorf("header must be %d bytes, got %d", HeaderSize, len(b))
	}
	h := &Header{}
	if err := h.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// ParseHeaderHex decodes a hex-encoded serialized header.
func ParseHeaderHex(s string) (*Header, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid header hex: %w", err)
	}
	return ParseHeader(b)
}
