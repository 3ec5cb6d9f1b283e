package chainsync

import (
	"context"
	"time"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/pkg/tx"
)

// TxPublisher submits a raw transaction to the network.
type TxPublisher interface {
	Broadcast(ctx context.Context, t *tx.Transaction) error
}

// Broadcaster is handed to the engine for publishing its transactions.
// The engine has no way to act on a failure, so errors are logged and the
// engine rebroadcasts on its own schedule.
type Broadcaster struct {
	publisher TxPublisher
	timeout   time.Duration
}

// NewBroadcaster creates a broadcaster. A zero timeout means none.
func NewBroadcaster(p TxPublisher, timeout time.Duration) *Broadcaster {
	return &Broadcaster{publisher: p, timeout: timeout}
}

// BroadcastTransactions publishes each transaction in order.
func (b *Broadcaster) BroadcastTransactions(txs ...*tx.Transaction) {
	for _, t := range txs {
		b.broadcast(t)
	}
}

func (b *Broadcaster) broadcast(t *tx.Transaction) {
	ctx := context.Background()
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	if err := b.publisher.Broadcast(ctx, t); err != nil {
		log.Chain.Error().Err(err).Str("txid", t.ID().String()).Msg("Broadcast failed")
		return
	}
	log.Chain.Info().Str("txid", t.ID().String()).Msg("Transaction broadcast")
}
