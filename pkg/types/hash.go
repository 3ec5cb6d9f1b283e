// Package types defines the primitive chain types shared by the sync core.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HashSize is the length of a hash in bytes.
const HashSize = chainhash.HashSize

// Hash is a double-SHA256 digest in internal byte order. Its text form is
// byte-reversed, matching how block explorers and bitcoind display txids
// and block hashes.
type Hash chainhash.Hash

// IsZero returns true if the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String returns the reversed hex encoding of the hash.
func (h Hash) String() string {
	return chainhash.Hash(h).String()
}

// Bytes returns a copy of the hash in internal byte order.
func (h Hash) Bytes() []byte {
	ch := chainhash.Hash(h)
	return ch.CloneBytes()
}

// ChainHash converts h for use with btcd's wire types.
func (h Hash) ChainHash() chainhash.Hash {
	return chainhash.Hash(h)
}

// MarshalJSON encodes the hash as a reversed hex string.
func (h Hash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.String())
}

// UnmarshalJSON decodes a reversed hex string into a hash.
func (h *Hash) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*h = Hash{}
		return nil
	}
	parsed, err := HexToHash(s)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// HexToHash parses the reversed hex form produced by String.
// Returns an error if the string is not exactly 64 hex characters.
func HexToHash(s string) (Hash, error) {
	if len(s) != 2*HashSize {
		return Hash{}, fmt.Errorf("hash must be %d hex characters, got %d", 2*HashSize, len(s))
	}
	ch, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return Hash{}, fmt.Errorf("invalid hex: %w", err)
	}
	return Hash(*ch), nil
}

// HashFromBytes copies a 32-byte slice in internal byte order.
func HashFromBytes(b []byte) (Hash, error) {
	ch, err := chainhash.NewHash(b)
	if err != nil {
		return Hash{}, err
	}
	return Hash(*ch), nil
}
