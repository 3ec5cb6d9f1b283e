package chainsync

import (
	"github.com/Klingon-tech/lnsync/pkg/block"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// Fanout forwards every notification to several sinks in order, such as the
// channel manager followed by the chain monitor.
type Fanout struct {
	sinks []ConfirmSink
}

// NewFanout combines sinks.
func NewFanout(sinks ...ConfirmSink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) BestBlockUpdated(header *block.Header, height uint32) {
	for _, s := range f.sinks {
		s.BestBlockUpdated(header, height)
	}
}

func (f *Fanout) TransactionsConfirmed(header *block.Header, txs []TxAtPosition, height uint32) {
	for _, s := range f.sinks {
		s.TransactionsConfirmed(header, txs, height)
	}
}

func (f *Fanout) TransactionUnconfirmed(txid types.Hash) {
	for _, s := range f.sinks {
		s.TransactionUnconfirmed(txid)
	}
}

// RelevantTxIDs merges the sinks' lists, dropping duplicates and keeping
// first-seen order.
func (f *Fanout) RelevantTxIDs() []types.Hash {
	seen := make(map[types.Hash]struct{})
	var out []types.Hash
	for _, s := range f.sinks {
		for _, id := range s.RelevantTxIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}
