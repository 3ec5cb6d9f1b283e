package esplora

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Klingon-tech/lnsync/pkg/tx"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

const (
	genesisHash       = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	genesisHeaderHex  = "0100000000000000000000000000000000000000000000000000000000000000000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c"
	genesisCoinbaseID = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
	genesisCoinbase   = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"
	unknownHash       = "00000000000000000000000000000000000000000000000000000000deadbeef"
	staleHash         = "0000000000000000000000000000000000000000000000000000000000000bad"
)

// fakeEsplora serves a tiny chain holding only the genesis block.
type fakeEsplora struct {
	mu        sync.Mutex
	broadcast []string
	fail      bool
}

func (f *fakeEsplora) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/hash", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		fail := f.fail
		f.mu.Unlock()
		if fail {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, genesisHash)
	})
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0")
	})
	mux.HandleFunc("/block/"+genesisHash+"/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"in_best_chain":true,"height":0,"next_best":null}`)
	})
	mux.HandleFunc("/block/"+staleHash+"/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"in_best_chain":false}`)
	})
	mux.HandleFunc("/block/"+genesisHash+"/header", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, genesisHeaderHex)
	})
	mux.HandleFunc("/tx/"+genesisCoinbaseID+"/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"confirmed":true,"block_height":0,"block_hash":%q,"block_time":1231006505}`, genesisHash)
	})
	mux.HandleFunc("/tx/"+genesisCoinbaseID+"/hex", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, genesisCoinbase)
	})
	mux.HandleFunc("/tx/"+genesisCoinbaseID+"/merkle-proof", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"block_height":0,"merkle":[],"pos":0}`)
	})
	mux.HandleFunc("/tx/"+unknownHash+"/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"confirmed":false}`)
	})
	// Output 0 of unknownHash is spent by the genesis coinbase (fiction, but
	// enough to exercise the lookup), output 1 is unspent.
	mux.HandleFunc("/tx/"+unknownHash+"/outspend/0", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"spent":true,"txid":%q,"vin":0,"status":{"confirmed":true,"block_height":0,"block_hash":%q}}`, genesisCoinbaseID, genesisHash)
	})
	mux.HandleFunc("/tx/"+unknownHash+"/outspend/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"spent":false}`)
	})
	mux.HandleFunc("/tx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method", http.StatusMethodNotAllowed)
			return
		}
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.broadcast = append(f.broadcast, string(body))
		f.mu.Unlock()
		fmt.Fprint(w, genesisCoinbaseID)
	})
	mux.HandleFunc("/fee-estimates", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"1":20.5,"6":8.0,"25":1.2,"144":1.0}`)
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeEsplora) {
	t.Helper()
	fake := &fakeEsplora{}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return New(srv.URL+"/", 5*time.Second, 0), fake
}

func mustHash(t *testing.T, s string) types.Hash {
	t.Helper()
	h, err := types.HexToHash(s)
	if err != nil {
		t.Fatalf("HexToHash(%s): %v", s, err)
	}
	return h
}

func TestTip(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	hash, err := c.TipHash(ctx)
	if err != nil {
		t.Fatalf("TipHash() error: %v", err)
	}
	if hash.String() != genesisHash {
		t.Errorf("TipHash() = %s, want %s", hash, genesisHash)
	}
	height, err := c.TipHeight(ctx)
	if err != nil || height != 0 {
		t.Errorf("TipHeight() = %d, %v", height, err)
	}
}

func TestHeaderWithHeight(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	h, height, ok, err := c.HeaderWithHeight(ctx, mustHash(t, genesisHash))
	if err != nil || !ok {
		t.Fatalf("HeaderWithHeight(genesis) ok=%v err=%v", ok, err)
	}
	if height != 0 || h.Timestamp.Unix() != 1231006505 {
		t.Errorf("header = %+v at %d", h, height)
	}

	for _, hash := range []string{staleHash, unknownHash} {
		_, _, ok, err := c.HeaderWithHeight(ctx, mustHash(t, hash))
		if err != nil || ok {
			t.Errorf("HeaderWithHeight(%s) = ok %v, err %v; want not found", hash[56:], ok, err)
		}
	}
}

func TestConfirmedTx(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ct, err := c.ConfirmedTx(ctx, mustHash(t, genesisCoinbaseID))
	if err != nil {
		t.Fatalf("ConfirmedTx() error: %v", err)
	}
	if ct == nil {
		t.Fatal("ConfirmedTx() = nil, want genesis coinbase")
	}
	if ct.Tx.ID().String() != genesisCoinbaseID || ct.Height != 0 || ct.Position != 0 {
		t.Errorf("ConfirmedTx() = %s at %d/%d", ct.Tx.ID(), ct.Height, ct.Position)
	}
	if ct.Header.Hash().String() != genesisHash {
		t.Errorf("header hash = %s", ct.Header.Hash())
	}

	// Unconfirmed and unknown both yield nil without error.
	if ct, err := c.ConfirmedTx(ctx, mustHash(t, unknownHash)); err != nil || ct != nil {
		t.Errorf("ConfirmedTx(unconfirmed) = %v, %v", ct, err)
	}
	if ct, err := c.ConfirmedTx(ctx, mustHash(t, staleHash)); err != nil || ct != nil {
		t.Errorf("ConfirmedTx(unknown) = %v, %v", ct, err)
	}
}

func TestConfirmedSpendingTx(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	funding := mustHash(t, unknownHash)

	ct, err := c.ConfirmedSpendingTx(ctx, funding, 0)
	if err != nil || ct == nil {
		t.Fatalf("ConfirmedSpendingTx(spent) = %v, %v", ct, err)
	}
	if ct.Tx.ID().String() != genesisCoinbaseID {
		t.Errorf("spender = %s", ct.Tx.ID())
	}

	ct, err = c.ConfirmedSpendingTx(ctx, funding, 1)
	if err != nil || ct != nil {
		t.Errorf("ConfirmedSpendingTx(unspent) = %v, %v", ct, err)
	}
}

func TestIsTxConfirmed(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	tests := []struct {
		txid string
		want bool
	}{
		{genesisCoinbaseID, true},
		{unknownHash, false},
		{staleHash, false}, // 404
	}
	for _, tt := range tests {
		got, err := c.IsTxConfirmed(ctx, mustHash(t, tt.txid))
		if err != nil || got != tt.want {
			t.Errorf("IsTxConfirmed(%s) = %v, %v; want %v", tt.txid[56:], got, err, tt.want)
		}
	}
}

func TestStatusError(t *testing.T) {
	c, fake := newTestClient(t)
	fake.mu.Lock()
	fake.fail = true
	fake.mu.Unlock()
	_, err := c.TipHash(context.Background())
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("TipHash() error = %v, want StatusError 503", err)
	}
	if !strings.Contains(se.Body, "overloaded") {
		t.Errorf("StatusError body = %q", se.Body)
	}
}

func TestBroadcast(t *testing.T) {
	c, fake := newTestClient(t)
	coinbase, err := tx.FromHex(genesisCoinbase)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Broadcast(context.Background(), coinbase); err != nil {
		t.Fatalf("Broadcast() error: %v", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.broadcast) != 1 || fake.broadcast[0] != genesisCoinbase {
		t.Errorf("server got %v", fake.broadcast)
	}
}

func TestFeeEstimates(t *testing.T) {
	c, _ := newTestClient(t)
	est, err := c.FeeEstimates(context.Background())
	if err != nil {
		t.Fatalf("FeeEstimates() error: %v", err)
	}
	if est["6"] != 8.0 || est["25"] != 1.2 || len(est) != 4 {
		t.Errorf("FeeEstimates() = %v", est)
	}
}

func TestCanceledContext(t *testing.T) {
	c, _ := newTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.TipHash(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("TipHash(canceled) error = %v, want context.Canceled", err)
	}
}

func TestRateLimit(t *testing.T) {
	fake := &fakeEsplora{}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()
	c := New(srv.URL, time.Second, 20)

	start := time.Now()
	for i := 0; i < 25; i++ {
		if _, err := c.TipHash(context.Background()); err != nil {
			t.Fatalf("TipHash() error: %v", err)
		}
	}
	// 20 burst tokens, then 5 more at 20/s.
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("25 requests at 20 rps took %v, limiter not applied", elapsed)
	}
}
