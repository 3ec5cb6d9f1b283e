package chainsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/lnsync/pkg/block"
	"github.com/Klingon-tech/lnsync/pkg/tx"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// makeTx builds a minimal transaction whose id depends on n.
func makeTx(t *testing.T, n uint32) *tx.Transaction {
	t.Helper()
	msg := wire.NewMsgTx(2)
	msg.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	msg.AddTxOut(wire.NewTxOut(0, nil))
	msg.LockTime = n
	built, err := tx.FromMsgTx(msg)
	if err != nil {
		t.Fatalf("tx.FromMsgTx: %v", err)
	}
	return built
}

func makeHeader(height uint32) *block.Header {
	return &block.Header{BlockHeader: wire.BlockHeader{
		Version:   4,
		Timestamp: time.Unix(1_700_000_000+int64(height), 0),
		Nonce:     height,
	}}
}

type headerAt struct {
	header *block.Header
	height uint32
}

// fakeSource is an in-memory BlockSource.
type fakeSource struct {
	mu          sync.Mutex
	tips        []types.Hash // returned in turn; the last one repeats
	tipCalls    int
	headers     map[types.Hash]headerAt
	txs         map[types.Hash]*ConfirmedTx
	spends      map[types.Outpoint]*ConfirmedTx
	unconfirmed map[types.Hash]bool
	errs        map[string]error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		headers:     make(map[types.Hash]headerAt),
		txs:         make(map[types.Hash]*ConfirmedTx),
		spends:      make(map[types.Outpoint]*ConfirmedTx),
		unconfirmed: make(map[types.Hash]bool),
		errs:        make(map[string]error),
	}
}

// addBlock registers a header at height and returns its hash.
func (f *fakeSource) addBlock(height uint32) (types.Hash, *block.Header) {
	h := makeHeader(height)
	hash := h.Hash()
	f.mu.Lock()
	f.headers[hash] = headerAt{h, height}
	f.mu.Unlock()
	return hash, h
}

func (f *fakeSource) setTips(tips ...types.Hash) {
	f.mu.Lock()
	f.tips = tips
	f.tipCalls = 0
	f.mu.Unlock()
}

// confirm marks t as confirmed at (height, pos) and returns the record.
func (f *fakeSource) confirm(t *tx.Transaction, height uint32, pos int) *ConfirmedTx {
	c := &ConfirmedTx{Tx: t, Header: makeHeader(height), Height: height, Position: pos}
	f.mu.Lock()
	f.txs[t.ID()] = c
	f.mu.Unlock()
	return c
}

func (f *fakeSource) spend(op types.Outpoint, c *ConfirmedTx) {
	f.mu.Lock()
	f.spends[op] = c
	f.mu.Unlock()
}

func (f *fakeSource) fail(op string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.errs, op)
	} else {
		f.errs[op] = err
	}
	f.mu.Unlock()
}

func (f *fakeSource) TipHash(ctx context.Context) (types.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["tip"]; err != nil {
		return types.Hash{}, err
	}
	if len(f.tips) == 0 {
		return types.Hash{}, errors.New("no tip")
	}
	i := f.tipCalls
	if i >= len(f.tips) {
		i = len(f.tips) - 1
	}
	f.tipCalls++
	return f.tips[i], nil
}

func (f *fakeSource) HeaderWithHeight(ctx context.Context, hash types.Hash) (*block.Header, uint32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["header"]; err != nil {
		return nil, 0, false, err
	}
	h, ok := f.headers[hash]
	if !ok {
		return nil, 0, false, nil
	}
	return h.header, h.height, true, nil
}

func (f *fakeSource) ConfirmedTx(ctx context.Context, txid types.Hash) (*ConfirmedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["tx"]; err != nil {
		return nil, err
	}
	return f.txs[txid], nil
}

func (f *fakeSource) ConfirmedSpendingTx(ctx context.Context, txid types.Hash, vout uint32) (*ConfirmedTx, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["spend"]; err != nil {
		return nil, err
	}
	return f.spends[types.Outpoint{TxID: txid, Index: vout}], nil
}

func (f *fakeSource) IsTxConfirmed(ctx context.Context, txid types.Hash) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs["status"]; err != nil {
		return false, err
	}
	return !f.unconfirmed[txid], nil
}

// event is one notification seen by recordingSink.
type event struct {
	kind     string // best, confirmed, unconfirmed
	height   uint32
	position int
	txid     types.Hash
}

func (e event) String() string {
	switch e.kind {
	case "best":
		return fmt.Sprintf("best(%d)", e.height)
	case "confirmed":
		return fmt.Sprintf("confirmed(%s@%d/%d)", e.txid.String()[:8], e.height, e.position)
	default:
		return fmt.Sprintf("%s(%s)", e.kind, e.txid.String()[:8])
	}
}

type recordingSink struct {
	mu        sync.Mutex
	events    []event
	relevant  []types.Hash
	onConfirm func(txid types.Hash)
}

func (s *recordingSink) BestBlockUpdated(header *block.Header, height uint32) {
	s.mu.Lock()
	s.events = append(s.events, event{kind: "best", height: height})
	s.mu.Unlock()
}

func (s *recordingSink) TransactionsConfirmed(header *block.Header, txs []TxAtPosition, height uint32) {
	s.mu.Lock()
	for _, t := range txs {
		s.events = append(s.events, event{kind: "confirmed", height: height, position: t.Position, txid: t.Tx.ID()})
	}
	hook := s.onConfirm
	s.mu.Unlock()
	if hook != nil {
		for _, t := range txs {
			hook(t.Tx.ID())
		}
	}
}

func (s *recordingSink) TransactionUnconfirmed(txid types.Hash) {
	s.mu.Lock()
	s.events = append(s.events, event{kind: "unconfirmed", txid: txid})
	s.mu.Unlock()
}

func (s *recordingSink) RelevantTxIDs() []types.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Hash(nil), s.relevant...)
}

func (s *recordingSink) snapshot() []event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event(nil), s.events...)
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

func kinds(events []event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.kind
	}
	return out
}
