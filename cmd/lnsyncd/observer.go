package main

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/Klingon-tech/lnsync/internal/chainsync"
	"github.com/Klingon-tech/lnsync/internal/gossip"
	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/p2p"
	"github.com/Klingon-tech/lnsync/pkg/block"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

var errNoWireProtocol = errors.New("observer does not speak the lightning wire protocol")

// observer stands in for a Lightning engine. It logs chain notifications
// and remembers confirmed transactions so reorgs are reported back.
type observer struct {
	mu        sync.Mutex
	confirmed map[types.Hash]uint32
}

func newObserver() *observer {
	return &observer{confirmed: make(map[types.Hash]uint32)}
}

func (o *observer) BestBlockUpdated(header *block.Header, height uint32) {
	log.Node.Info().
		Str("hash", header.Hash().String()).
		Uint32("height", height).
		Msg("Best block updated")
}

func (o *observer) TransactionsConfirmed(header *block.Header, txs []chainsync.TxAtPosition, height uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range txs {
		id := t.Tx.ID()
		o.confirmed[id] = height
		log.Node.Info().
			Str("txid", id.String()).
			Uint32("height", height).
			Int("position", t.Position).
			Str("block", header.Hash().String()).
			Msg("Transaction confirmed")
	}
}

func (o *observer) TransactionUnconfirmed(txid types.Hash) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.confirmed, txid)
	log.Node.Warn().Str("txid", txid.String()).Msg("Transaction reorged out")
}

func (o *observer) RelevantTxIDs() []types.Hash {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]types.Hash, 0, len(o.confirmed))
	for id := range o.confirmed {
		ids = append(ids, id)
	}
	return ids
}

func (o *observer) IsConnected(id p2p.NodeID) bool { return false }

func (o *observer) NewOutboundConnection(id p2p.NodeID, conn net.Conn) (<-chan struct{}, error) {
	conn.Close()
	return nil, errNoWireProtocol
}

// ApplySnapshot does not build a graph. It reports the snapshot's own
// timestamp so the next request asks for the delta since it.
func (o *observer) ApplySnapshot(data []byte) (uint32, error) {
	ts, err := gossip.SnapshotTimestamp(data)
	if err != nil {
		return 0, err
	}
	log.Node.Info().Int("bytes", len(data)).Uint32("timestamp", ts).Msg("Gossip snapshot received")
	return ts, nil
}

// Run has no background work of its own and idles until shutdown.
func (o *observer) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}
