package chainsync

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/Klingon-tech/lnsync/internal/storage"
	"github.com/Klingon-tech/lnsync/internal/watch"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

func newTestWatcher(src *fakeSource) (*Watcher, *recordingSink, *watch.Registry) {
	sink := &recordingSink{}
	reg := watch.NewRegistry()
	return NewWatcher(src, sink, reg, types.Hash{}), sink, reg
}

func TestSync_SingleConfirmation(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(100)
	src.setTips(tip)
	t1 := makeTx(t, 1)
	src.confirm(t1, 100, 0)

	w, sink, reg := newTestWatcher(src)
	reg.RegisterTx(t1.ID(), types.Script("\x00\x14"))

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	want := []event{
		{kind: "best", height: 100},
		{kind: "confirmed", height: 100, position: 0, txid: t1.ID()},
	}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if txs, outs := w.Watched(); txs != 0 || outs != 0 {
		t.Errorf("Watched() = %d, %d; want T1 removed", txs, outs)
	}
	if got, h := w.SyncedTip(); got != tip || h != 100 {
		t.Errorf("SyncedTip() = %s/%d, want %s/100", got, h, tip)
	}

	// Nothing new: a second Sync is silent.
	sink.reset()
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("second Sync() error: %v", err)
	}
	if got := sink.snapshot(); len(got) != 0 {
		t.Errorf("second Sync() re-notified: %v", got)
	}
}

func TestSync_OrderedByHeightAndPosition(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(20)
	src.setTips(tip)
	w, sink, reg := newTestWatcher(src)

	places := []struct {
		height uint32
		pos    int
	}{{10, 10}, {5, 5}, {10, 5}, {5, 10}, {7, 0}, {20, 3}}
	for i, p := range places {
		tr := makeTx(t, uint32(i+1))
		c := src.confirm(tr, p.height, p.pos)
		if i%2 == 0 {
			reg.RegisterTx(tr.ID(), "")
		} else {
			// Watched as the spender of some output instead.
			op := types.Outpoint{TxID: makeTx(t, uint32(100+i)).ID(), Index: uint32(i)}
			src.spend(op, c)
			delete(src.txs, tr.ID())
			reg.RegisterOutput(watch.Output{Outpoint: op})
		}
	}

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	events := sink.snapshot()
	if events[0].kind != "best" {
		t.Fatalf("first event = %v, want best", events[0])
	}
	confirmed := events[1:]
	if len(confirmed) != len(places) {
		t.Fatalf("got %d confirmations, want %d: %v", len(confirmed), len(places), events)
	}
	for i := 1; i < len(confirmed); i++ {
		a, b := confirmed[i-1], confirmed[i]
		if a.height > b.height || (a.height == b.height && a.position > b.position) {
			t.Fatalf("confirmations out of order at %d: %v then %v", i, a, b)
		}
	}
}

func TestSortDedup(t *testing.T) {
	tr := makeTx(t, 1)
	other := makeTx(t, 2)
	in := []*ConfirmedTx{
		{Tx: tr, Height: 10, Position: 10},
		{Tx: tr, Height: 5, Position: 5},
		{Tx: other, Height: 10, Position: 5},
		{Tx: tr, Height: 5, Position: 10},
		{Tx: tr, Height: 5, Position: 5},
	}
	got := sortDedup(in)
	var places [][2]int
	for _, c := range got {
		places = append(places, [2]int{int(c.Height), c.Position})
	}
	want := [][2]int{{5, 5}, {5, 10}, {10, 5}, {10, 10}}
	if !reflect.DeepEqual(places, want) {
		t.Errorf("sortDedup() = %v, want %v", places, want)
	}
}

func TestSync_TipFailureLeavesStateUnchanged(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(100)
	src.setTips(tip)
	t1 := makeTx(t, 1)
	src.confirm(t1, 100, 0)

	w, sink, reg := newTestWatcher(src)
	start := makeTx(t, 999).ID()
	w.syncedTip = start
	reg.RegisterTx(t1.ID(), "")

	boom := errors.New("connection refused")
	src.fail("tip", boom)
	err := w.Sync(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || !errors.Is(err, boom) {
		t.Fatalf("Sync() error = %v, want TransportError wrapping boom", err)
	}
	if got, _ := w.SyncedTip(); got != start {
		t.Errorf("synced tip moved to %s after failure", got)
	}
	if len(sink.snapshot()) != 0 {
		t.Errorf("notifications sent despite failure: %v", sink.snapshot())
	}
	if reg.Pending() != 1 {
		t.Errorf("registry drained despite failure")
	}
}

func TestSync_QueryFailureKeepsWatches(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(100)
	src.setTips(tip)
	t1 := makeTx(t, 1)
	src.confirm(t1, 100, 0)
	op := types.Outpoint{TxID: makeTx(t, 50).ID(), Index: 0}
	src.spend(op, src.confirm(makeTx(t, 2), 99, 1))

	w, sink, reg := newTestWatcher(src)
	reg.RegisterTx(t1.ID(), "")
	reg.RegisterOutput(watch.Output{Outpoint: op})

	src.fail("spend", errors.New("503"))
	if err := w.Sync(context.Background()); err == nil {
		t.Fatal("Sync() succeeded despite spend query failure")
	}
	for _, e := range sink.snapshot() {
		if e.kind == "confirmed" {
			t.Fatalf("confirmation delivered from a failed pass: %v", e)
		}
	}
	if txs, outs := w.Watched(); txs != 1 || outs != 1 {
		t.Errorf("Watched() = %d, %d; want both entries kept", txs, outs)
	}
	if got, _ := w.SyncedTip(); !got.IsZero() {
		t.Errorf("synced tip advanced after failed pass")
	}

	// Retry succeeds and delivers both.
	src.fail("spend", nil)
	sink.reset()
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("retry Sync() error: %v", err)
	}
	got := kinds(sink.snapshot())
	want := []string{"best", "confirmed", "confirmed"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("retry events = %v, want %v", got, want)
	}
	if got, _ := w.SyncedTip(); got != tip {
		t.Errorf("synced tip = %s, want %s", got, tip)
	}
}

func TestSync_UnconfirmBeforeConfirm(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(101)
	src.setTips(tip)

	reorged := makeTx(t, 7)
	src.unconfirmed[reorged.ID()] = true
	fresh := makeTx(t, 8)
	src.confirm(fresh, 101, 2)

	w, sink, reg := newTestWatcher(src)
	sink.relevant = []types.Hash{reorged.ID()}
	reg.RegisterTx(fresh.ID(), "")

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	want := []event{
		{kind: "best", height: 101},
		{kind: "unconfirmed", txid: reorged.ID()},
		{kind: "confirmed", height: 101, position: 2, txid: fresh.ID()},
	}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	// The reorged tx is watched again and reported when it re-confirms.
	sink.relevant = nil
	next, _ := src.addBlock(102)
	src.setTips(next)
	delete(src.unconfirmed, reorged.ID())
	src.confirm(reorged, 102, 0)
	sink.reset()
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	want = []event{
		{kind: "best", height: 102},
		{kind: "confirmed", height: 102, position: 0, txid: reorged.ID()},
	}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events after re-confirm = %v, want %v", got, want)
	}
}

func TestSync_ReorgRace(t *testing.T) {
	src := newFakeSource()
	vanished := makeTx(t, 404).ID() // tip hash the remote cannot find
	src.setTips(vanished)

	w, sink, reg := newTestWatcher(src)
	reg.RegisterTx(makeTx(t, 1).ID(), "")

	err := w.Sync(context.Background())
	if !errors.Is(err, ErrReorgRace) {
		t.Fatalf("Sync() error = %v, want ErrReorgRace", err)
	}
	if len(sink.snapshot()) != 0 {
		t.Errorf("notifications sent on reorg race: %v", sink.snapshot())
	}
	if got, _ := w.SyncedTip(); !got.IsZero() {
		t.Errorf("synced tip moved on reorg race")
	}

	tip, _ := src.addBlock(5)
	src.setTips(tip)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() after race error: %v", err)
	}
	if got, _ := w.SyncedTip(); got != tip {
		t.Errorf("synced tip = %s, want %s", got, tip)
	}
}

func TestSync_FollowsMovingTip(t *testing.T) {
	src := newFakeSource()
	a, _ := src.addBlock(10)
	b, _ := src.addBlock(11)
	// First TipHash returns a, the refetch after the pass returns b.
	src.setTips(a, b)

	w, sink, _ := newTestWatcher(src)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	want := []event{{kind: "best", height: 10}, {kind: "best", height: 11}}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if got, h := w.SyncedTip(); got != b || h != 11 {
		t.Errorf("SyncedTip() = %s/%d, want b/11", got, h)
	}
}

func TestSync_PendingWatchesWithUnchangedTip(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(100)
	src.setTips(tip)
	w, sink, reg := newTestWatcher(src)

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	t1 := makeTx(t, 1)
	src.confirm(t1, 90, 4)
	reg.RegisterTx(t1.ID(), "")
	sink.reset()

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	got := kinds(sink.snapshot())
	if !reflect.DeepEqual(got, []string{"best", "confirmed"}) {
		t.Fatalf("events = %v, want best then confirmed", sink.snapshot())
	}
}

func TestSync_RegistrationDuringDelivery(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(200)
	src.setTips(tip)

	funding := makeTx(t, 1)
	src.confirm(funding, 150, 1)
	sweep := makeTx(t, 2)
	fundingOut := types.Outpoint{TxID: funding.ID(), Index: 0}
	src.spend(fundingOut, &ConfirmedTx{Tx: sweep, Header: makeHeader(180), Height: 180, Position: 7})

	w, sink, reg := newTestWatcher(src)
	// Learning about the funding confirmation makes the engine watch its output.
	sink.onConfirm = func(txid types.Hash) {
		if txid == funding.ID() {
			reg.RegisterOutput(watch.Output{Outpoint: fundingOut})
		}
	}
	reg.RegisterTx(funding.ID(), "")

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	want := []event{
		{kind: "best", height: 200},
		{kind: "confirmed", height: 150, position: 1, txid: funding.ID()},
		{kind: "confirmed", height: 180, position: 7, txid: sweep.ID()},
	}
	if got := sink.snapshot(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestSync_DedupAcrossTxAndOutput(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(50)
	src.setTips(tip)
	spender := makeTx(t, 3)
	c := src.confirm(spender, 50, 2)
	op := types.Outpoint{TxID: makeTx(t, 4).ID(), Index: 1}
	src.spend(op, c)

	w, sink, reg := newTestWatcher(src)
	reg.RegisterTx(spender.ID(), "")
	reg.RegisterOutput(watch.Output{Outpoint: op})

	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := kinds(sink.snapshot()); !reflect.DeepEqual(got, []string{"best", "confirmed"}) {
		t.Fatalf("events = %v, want a single confirmation", sink.snapshot())
	}
	if txs, outs := w.Watched(); txs != 0 || outs != 0 {
		t.Errorf("Watched() = %d, %d; want both removed", txs, outs)
	}
}

func TestSync_ConfirmationAboveTipDeferred(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(100)
	src.setTips(tip)
	early := makeTx(t, 1)
	src.confirm(early, 101, 0) // remote index is ahead of its tip answer

	w, sink, reg := newTestWatcher(src)
	reg.RegisterTx(early.ID(), "")
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := kinds(sink.snapshot()); !reflect.DeepEqual(got, []string{"best"}) {
		t.Fatalf("events = %v, want only best", sink.snapshot())
	}
	if txs, _ := w.Watched(); txs != 1 {
		t.Fatalf("deferred tx dropped from watch set")
	}

	next, _ := src.addBlock(101)
	src.setTips(next)
	sink.reset()
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}
	if got := kinds(sink.snapshot()); !reflect.DeepEqual(got, []string{"best", "confirmed"}) {
		t.Fatalf("events = %v, want best then confirmed", sink.snapshot())
	}
}

func TestSync_PersistsTip(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(321)
	src.setTips(tip)
	w, _, _ := newTestWatcher(src)

	store := NewDBTipStore(storage.NewMemory())
	w.SetTipStore(store)
	if err := w.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error: %v", err)
	}

	hash, height, ok, err := store.LoadTip()
	if err != nil || !ok {
		t.Fatalf("LoadTip() = ok %v, err %v", ok, err)
	}
	if hash != tip || height != 321 {
		t.Errorf("LoadTip() = %s/%d, want %s/321", hash, height, tip)
	}
}

func TestSync_ContextCanceled(t *testing.T) {
	src := newFakeSource()
	tip, _ := src.addBlock(1)
	src.setTips(tip)
	w, sink, _ := newTestWatcher(src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Sync(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sync() error = %v, want context.Canceled", err)
	}
	if len(sink.snapshot()) != 0 {
		t.Error("canceled Sync() sent notifications")
	}
}
