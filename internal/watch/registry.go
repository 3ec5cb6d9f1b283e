// Package watch records the transactions and outputs the Lightning engine
// asked to be told about, until the chain watcher picks them up.
package watch

import (
	"fmt"
	"sync"

	"github.com/Klingon-tech/lnsync/pkg/types"
)

// Tx is a transaction the engine wants to see confirmed.
type Tx struct {
	TxID   types.Hash   `json:"txid"`
	Script types.Script `json:"script"`
}

// Output is an output whose spending transaction the engine wants to see.
// BlockHash is the first block the output may appear in; zero when unknown.
type Output struct {
	BlockHash types.Hash     `json:"block_hash"`
	Outpoint  types.Outpoint `json:"outpoint"`
	Script    types.Script   `json:"script"`
}

// String returns "outpoint" or "outpoint@block".
func (o Output) String() string {
	if o.BlockHash.IsZero() {
		return o.Outpoint.String()
	}
	return fmt.Sprintf("%s@%s", o.Outpoint, o.BlockHash)
}

// Batch is the content of one Drain.
type Batch struct {
	Txs     []Tx
	Outputs []Output
}

// Len returns the total number of entries.
func (b *Batch) Len() int {
	return len(b.Txs) + len(b.Outputs)
}

// Registry collects watch requests. Registration and Drain are serialized by
// one mutex covering both sets, so an entry is never split across drains.
type Registry struct {
	mu      sync.Mutex
	txs     map[Tx]struct{}
	outputs map[Output]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		txs:     make(map[Tx]struct{}),
		outputs: make(map[Output]struct{}),
	}
}

// RegisterTx adds a transaction to watch. Duplicates collapse.
func (r *Registry) RegisterTx(txid types.Hash, script types.Script) {
	r.mu.Lock()
	r.txs[Tx{TxID: txid, Script: script}] = struct{}{}
	r.mu.Unlock()
}

// RegisterOutput adds an output to watch. Duplicates collapse.
func (r *Registry) RegisterOutput(out Output) {
	r.mu.Lock()
	r.outputs[out] = struct{}{}
	r.mu.Unlock()
}

// Drain returns and clears everything registered so far.
// It returns false if both sets are empty.
func (r *Registry) Drain() (*Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.txs) == 0 && len(r.outputs) == 0 {
		return nil, false
	}

	b := &Batch{
		Txs:     make([]Tx, 0, len(r.txs)),
		Outputs: make([]Output, 0, len(r.outputs)),
	}
	for tx := range r.txs {
		b.Txs = append(b.Txs, tx)
	}
	for out := range r.outputs {
		b.Outputs = append(b.Outputs, out)
	}
	r.txs = make(map[Tx]struct{})
	r.outputs = make(map[Output]struct{})
	return b, true
}

// Pending reports how many entries wait for the next Drain.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs) + len(r.outputs)
}
