package chainsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Klingon-tech/lnsync/pkg/tx"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

type fakePublisher struct {
	sent     []types.Hash
	err      error
	deadline bool
}

func (p *fakePublisher) Broadcast(ctx context.Context, t *tx.Transaction) error {
	_, p.deadline = ctx.Deadline()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, t.ID())
	return nil
}

func TestBroadcaster(t *testing.T) {
	p := &fakePublisher{}
	b := NewBroadcaster(p, time.Second)
	a, c := makeTx(t, 1), makeTx(t, 2)
	b.BroadcastTransactions(a, c)
	if len(p.sent) != 2 || p.sent[0] != a.ID() || p.sent[1] != c.ID() {
		t.Fatalf("sent = %v", p.sent)
	}
	if !p.deadline {
		t.Error("broadcast context has no deadline")
	}
}

func TestBroadcaster_FailureIsSwallowed(t *testing.T) {
	p := &fakePublisher{err: errors.New("sendrawtransaction RPC error: bad-txns-inputs-missingorspent")}
	b := NewBroadcaster(p, 0)
	// Must not panic or block; the error only goes to the log.
	b.BroadcastTransactions(makeTx(t, 1))
	if p.deadline {
		t.Error("zero timeout still set a deadline")
	}
}
