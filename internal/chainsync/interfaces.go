// Package chainsync keeps the Lightning engine's view of the chain in step
// with a remote block source. It reports the best block, confirmations of
// watched transactions and outputs, and reorged-out transactions, in the
// order the engine requires.
package chainsync

import (
	"context"

	"github.com/Klingon-tech/lnsync/internal/watch"
	"github.com/Klingon-tech/lnsync/pkg/block"
	"github.com/Klingon-tech/lnsync/pkg/tx"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// ConfirmedTx is a transaction found in the remote best chain.
type ConfirmedTx struct {
	Tx       *tx.Transaction
	Header   *block.Header
	Height   uint32
	Position int // index within the block
}

// BlockSource answers chain queries. Lookups that find nothing return a nil
// result and a nil error; errors mean the remote could not be asked.
type BlockSource interface {
	TipHash(ctx context.Context) (types.Hash, error)
	// HeaderWithHeight returns ok=false if hash is not in the best chain.
	HeaderWithHeight(ctx context.Context, hash types.Hash) (h *block.Header, height uint32, ok bool, err error)
	ConfirmedTx(ctx context.Context, txid types.Hash) (*ConfirmedTx, error)
	ConfirmedSpendingTx(ctx context.Context, txid types.Hash, vout uint32) (*ConfirmedTx, error)
	IsTxConfirmed(ctx context.Context, txid types.Hash) (bool, error)
}

// TxAtPosition pairs a transaction with its index in the block.
type TxAtPosition struct {
	Position int
	Tx       *tx.Transaction
}

// ConfirmSink receives chain notifications. Implemented by the engine.
type ConfirmSink interface {
	BestBlockUpdated(header *block.Header, height uint32)
	TransactionsConfirmed(header *block.Header, txs []TxAtPosition, height uint32)
	TransactionUnconfirmed(txid types.Hash)
	// RelevantTxIDs lists transactions the engine considers confirmed and
	// would need to hear about if they were reorged out.
	RelevantTxIDs() []types.Hash
}

// RegistrationSink is the engine-facing write side of the watch registry.
type RegistrationSink interface {
	RegisterTx(txid types.Hash, script types.Script)
	RegisterOutput(out watch.Output)
}

// Drainer hands newly registered watches to the watcher.
type Drainer interface {
	Drain() (*watch.Batch, bool)
	Pending() int
}

var _ RegistrationSink = (*watch.Registry)(nil)
var _ Drainer = (*watch.Registry)(nil)
