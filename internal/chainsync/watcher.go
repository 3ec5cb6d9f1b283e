package chainsync

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
	"github.com/Klingon-tech/lnsync/internal/watch"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// Watcher walks the engine forward to the remote tip.
//
// A pass first announces the new best block, then reports reorged-out
// transactions, then confirmations sorted by (height, position). Watch
// entries leave the active set only once they are delivered, and the synced
// tip only moves after a whole pass succeeded, so a failed pass can simply
// be retried.
type Watcher struct {
	mu sync.Mutex // single writer: one Sync at a time

	source   BlockSource
	sink     ConfirmSink
	registry Drainer
	store    TipStore
	metrics  *metrics.Metrics

	txs       map[watch.Tx]struct{}
	outputs   map[watch.Output]struct{}
	syncedTip types.Hash
	tipHeight uint32
}

// NewWatcher creates a watcher that considers tip already reported to sink.
// A zero tip forces a full pass on the first Sync.
func NewWatcher(source BlockSource, sink ConfirmSink, registry Drainer, tip types.Hash) *Watcher {
	return &Watcher{
		source:    source,
		sink:      sink,
		registry:  registry,
		txs:       make(map[watch.Tx]struct{}),
		outputs:   make(map[watch.Output]struct{}),
		syncedTip: tip,
	}
}

// SetTipStore makes the watcher save the tip after each successful pass.
func (w *Watcher) SetTipStore(s TipStore) {
	w.mu.Lock()
	w.store = s
	w.mu.Unlock()
}

// SetMetrics attaches a metrics sink.
func (w *Watcher) SetMetrics(m *metrics.Metrics) {
	w.mu.Lock()
	w.metrics = m
	w.mu.Unlock()
}

// SyncedTip returns the last tip fully reported to the engine.
func (w *Watcher) SyncedTip() (types.Hash, uint32) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncedTip, w.tipHeight
}

// Watched returns the active watch set sizes.
func (w *Watcher) Watched() (txs, outputs int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.txs), len(w.outputs)
}

// Sync brings the engine up to the remote tip. It keeps going while the tip
// moves, and runs at least one pass when new watches are pending even if the
// tip did not change.
func (w *Watcher) Sync(ctx context.Context) (err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	defer func() {
		w.metrics.ObserveSync(time.Since(start), err)
		w.metrics.SetWatched(len(w.txs), len(w.outputs))
	}()

	tip, err := w.source.TipHash(ctx)
	if err != nil {
		return transport("tip hash", err)
	}

	pending := w.registry.Pending() > 0
	for tip != w.syncedTip || pending {
		pending = false
		if err := ctx.Err(); err != nil {
			return err
		}

		log.Chain.Debug().Str("tip", tip.String()).Msg("Syncing to tip")
		height, err := w.syncToTip(ctx, tip)
		if err != nil {
			return err
		}
		w.syncedTip = tip
		w.tipHeight = height
		w.metrics.SetTipHeight(height)
		log.Chain.Debug().Str("tip", tip.String()).Uint32("height", height).Msg("Synced to tip")

		if w.store != nil {
			if err := w.store.SaveTip(tip, height); err != nil {
				log.Chain.Warn().Err(err).Msg("Failed to persist synced tip")
			}
		}

		tip, err = w.source.TipHash(ctx)
		if err != nil {
			return transport("tip hash", err)
		}
	}
	return nil
}

func (w *Watcher) syncToTip(ctx context.Context, tip types.Hash) (uint32, error) {
	header, height, ok, err := w.source.HeaderWithHeight(ctx, tip)
	if err != nil {
		return 0, transport("header", err)
	}
	if !ok {
		return 0, ErrReorgRace
	}

	w.sink.BestBlockUpdated(header, height)
	w.drainRegistry()

	for {
		unconfirmed, err := w.unconfirmedTxIDs(ctx)
		if err != nil {
			return 0, err
		}
		found, txHits, outHits, err := w.collect(ctx, height)
		if err != nil {
			return 0, err
		}

		// Every remote answer is in; nothing below can fail.
		for _, id := range unconfirmed {
			w.sink.TransactionUnconfirmed(id)
		}
		w.metrics.AddUnconfirmed(len(unconfirmed))

		for _, t := range txHits {
			delete(w.txs, t)
		}
		for _, o := range outHits {
			delete(w.outputs, o)
		}

		confirmed := sortDedup(found)
		for _, c := range confirmed {
			w.sink.TransactionsConfirmed(c.Header, []TxAtPosition{{Position: c.Position, Tx: c.Tx}}, c.Height)
		}
		w.metrics.AddConfirmed(len(confirmed))

		// Reorged-out transactions are watched again so a re-confirmation on
		// the new chain is reported.
		for _, id := range unconfirmed {
			w.txs[watch.Tx{TxID: id}] = struct{}{}
		}

		if len(unconfirmed) > 0 || len(confirmed) > 0 {
			log.Chain.Info().
				Uint32("height", height).
				Int("unconfirmed", len(unconfirmed)).
				Int("confirmed", len(confirmed)).
				Msg("Chain notifications delivered")
		}

		if !w.drainRegistry() {
			return height, nil
		}
	}
}

// unconfirmedTxIDs returns the relevant transactions the remote no longer
// has in its best chain.
func (w *Watcher) unconfirmedTxIDs(ctx context.Context) ([]types.Hash, error) {
	var out []types.Hash
	for _, id := range w.sink.RelevantTxIDs() {
		ok, err := w.source.IsTxConfirmed(ctx, id)
		if err != nil {
			return nil, transport("tx status", err)
		}
		if !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// collect queries every watched transaction and output. Confirmations above
// the announced tip height are left for the next pass.
func (w *Watcher) collect(ctx context.Context, tipHeight uint32) ([]*ConfirmedTx, []watch.Tx, []watch.Output, error) {
	var (
		found   []*ConfirmedTx
		txHits  []watch.Tx
		outHits []watch.Output
	)
	for t := range w.txs {
		c, err := w.source.ConfirmedTx(ctx, t.TxID)
		if err != nil {
			return nil, nil, nil, transport("confirmed tx", err)
		}
		if c == nil || c.Height > tipHeight {
			continue
		}
		found = append(found, c)
		txHits = append(txHits, t)
	}
	for o := range w.outputs {
		c, err := w.source.ConfirmedSpendingTx(ctx, o.Outpoint.TxID, o.Outpoint.Index)
		if err != nil {
			return nil, nil, nil, transport("spending tx", err)
		}
		if c == nil || c.Height > tipHeight {
			continue
		}
		found = append(found, c)
		outHits = append(outHits, o)
	}
	return found, txHits, outHits, nil
}

// drainRegistry merges newly registered watches. Returns false if there were
// none.
func (w *Watcher) drainRegistry() bool {
	b, ok := w.registry.Drain()
	if !ok {
		return false
	}
	for _, t := range b.Txs {
		w.txs[t] = struct{}{}
	}
	for _, o := range b.Outputs {
		w.outputs[o] = struct{}{}
	}
	log.Chain.Debug().Int("txs", len(b.Txs)).Int("outputs", len(b.Outputs)).Msg("New watches")
	return true
}

// sortDedup orders confirmations by block height, then position within the
// block, and drops repeats of the same transaction at the same place.
func sortDedup(txs []*ConfirmedTx) []*ConfirmedTx {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Height != txs[j].Height {
			return txs[i].Height < txs[j].Height
		}
		return txs[i].Position < txs[j].Position
	})

	type key struct {
		txid     types.Hash
		height   uint32
		position int
	}
	seen := make(map[key]struct{}, len(txs))
	out := txs[:0]
	for _, c := range txs {
		k := key{c.Tx.ID(), c.Height, c.Position}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

