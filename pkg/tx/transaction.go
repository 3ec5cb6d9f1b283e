// Package tx wraps raw Bitcoin transactions with their decoded form so the
// sync core can identify them and hand them back to the engine unchanged.
package tx

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/lnsync/pkg/types"
)

// Transaction is a raw transaction together with its decoded form.
// Raw is kept verbatim (including witness data) so it can be handed to the
// consensus engine or rebroadcast unchanged.
type Transaction struct {
	Raw []byte

	msg *wire.MsgTx
	id  types.Hash
}

// ID returns the transaction id (hash of the non-witness serialization).
func (t *Transaction) ID() types.Hash {
	return t.id
}

// MsgTx returns the decoded transaction. Callers must not modify it.
func (t *Transaction) MsgTx() *wire.MsgTx {
	return t.msg
}

// HasWitness reports whether the transaction carries segwit data.
func (t *Transaction) HasWitness() bool {
	return t.msg.HasWitness()
}

// Hex returns the raw transaction hex.
func (t *Transaction) Hex() string {
	return hex.EncodeToString(t.Raw)
}

// FromHex decodes a hex-encoded raw transaction.
func FromHex(s string) (*Transaction, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hex: %w", err)
	}
	return Parse(b)
}

// Parse decodes a raw transaction in legacy or segwit encoding.
func Parse(raw []byte) (*Transaction, error) {
	msg := &wire.MsgTx{}
	r := bytes.NewReader(raw)
	if err := msg.Deserialize(r); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after transaction", r.Len())
	}
	return &Transaction{
		Raw: append([]byte(nil), raw...),
		msg: msg,
		id:  types.Hash(msg.TxHash()),
	}, nil
}

// FromMsgTx serializes msg and wraps it.
func FromMsgTx(msg *wire.MsgTx) (*Transaction, error) {
	var buf bytes.Buffer
	buf.Grow(msg.SerializeSize())
	if err := msg.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("encode tx: %w", err)
	}
	return &Transaction{
		Raw: buf.Bytes(),
		msg: msg,
		id:  types.Hash(msg.TxHash()),
	}, nil
}
