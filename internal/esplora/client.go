// Package esplora is an HTTP client for the Esplora block explorer API.
// It serves as the node's block source, transaction publisher and fee
// source.
package esplora

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Klingon-tech/lnsync/internal/chainsync"
	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
	"github.com/Klingon-tech/lnsync/pkg/block"
	"github.com/Klingon-tech/lnsync/pkg/tx"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// DefaultTimeout applies when the caller passes none.
const DefaultTimeout = 30 * time.Second

// maxBody bounds how much of a response is read.
const maxBody = 4 << 20

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("esplora: not found")

// StatusError is a non-2xx, non-404 response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("esplora: http %d: %s", e.Code, e.Body)
}

// Client talks to one Esplora instance.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
}

// New creates a client for baseURL (for example https://blockstream.info/api).
// rps limits requests per second; zero disables limiting.
func New(baseURL string, timeout time.Duration, rps float64) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// SetMetrics attaches a metrics sink.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

var (
	_ chainsync.BlockSource = (*Client)(nil)
	_ chainsync.TxPublisher = (*Client)(nil)
)

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (data []byte, err error) {
	defer func() {
		if !errors.Is(err, ErrNotFound) {
			c.metrics.RemoteRequest("esplora", err)
		}
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err = io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	log.Esplora.Trace().Str("method", method).Str("path", path).Int("bytes", len(data)).Msg("Esplora request")
	return data, nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, v interface{}) error {
	data, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// TipHash returns the hash of the remote best block.
func (c *Client) TipHash(ctx context.Context) (types.Hash, error) {
	data, err := c.get(ctx, "/blocks/tip/hash")
	if err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(strings.TrimSpace(string(data)))
}

// TipHeight returns the height of the remote best block.
func (c *Client) TipHeight(ctx context.Context) (uint32, error) {
	data, err := c.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	h, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("decode tip height: %w", err)
	}
	return uint32(h), nil
}

type blockStatus struct {
	InBestChain bool   `json:"in_best_chain"`
	Height      uint32 `json:"height"`
}

// HeaderWithHeight fetches a block header and its height. ok is false when
// the block is unknown or not in the best chain.
func (c *Client) HeaderWithHeight(ctx context.Context, hash types.Hash) (*block.Header, uint32, bool, error) {
	var status blockStatus
	err := c.getJSON(ctx, "/block/"+hash.String()+"/status", &status)
	if errors.Is(err, ErrNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	if !status.InBestChain {
		return nil, 0, false, nil
	}
	header, err := c.header(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	return header, status.Height, true, nil
}

func (c *Client) header(ctx context.Context, hash types.Hash) (*block.Header, error) {
	data, err := c.get(ctx, "/block/"+hash.String()+"/header")
	if err != nil {
		return nil, err
	}
	h, err := block.ParseHeaderHex(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if h.Hash() != hash {
		return nil, fmt.Errorf("header for %s hashes to %s", hash, h.Hash())
	}
	return h, nil
}

type txStatus struct {
	Confirmed   bool       `json:"confirmed"`
	BlockHeight uint32     `json:"block_height"`
	BlockHash   types.Hash `json:"block_hash"`
}

// IsTxConfirmed reports whether txid is in the remote best chain.
func (c *Client) IsTxConfirmed(ctx context.Context, txid types.Hash) (bool, error) {
	var status txStatus
	err := c.getJSON(ctx, "/tx/"+txid.String()+"/status", &status)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.Confirmed, nil
}

// Transaction fetches a raw transaction.
func (c *Client) Transaction(ctx context.Context, txid types.Hash) (*tx.Transaction, error) {
	data, err := c.get(ctx, "/tx/"+txid.String()+"/hex")
	if err != nil {
		return nil, err
	}
	t, err := tx.FromHex(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, err
	}
	if t.ID() != txid {
		return nil, fmt.Errorf("tx %s decodes to %s", txid, t.ID())
	}
	return t, nil
}

type merkleProof struct {
	BlockHeight uint32 `json:"block_height"`
	Pos         int    `json:"pos"`
}

// ConfirmedTx returns the transaction with its block and position, or nil
// if it is unknown or unconfirmed.
func (c *Client) ConfirmedTx(ctx context.Context, txid types.Hash) (*chainsync.ConfirmedTx, error) {
	var status txStatus
	err := c.getJSON(ctx, "/tx/"+txid.String()+"/status", &status)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !status.Confirmed {
		return nil, nil
	}

	t, err := c.Transaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	header, err := c.header(ctx, status.BlockHash)
	if err != nil {
		return nil, err
	}
	var proof merkleProof
	if err := c.getJSON(ctx, "/tx/"+txid.String()+"/merkle-proof", &proof); err != nil {
		return nil, err
	}
	if proof.BlockHeight != status.BlockHeight {
		// Reorged between the two calls; treat as not yet confirmed.
		log.Esplora.Debug().Str("txid", txid.String()).Msg("Confirmation moved while fetching")
		return nil, nil
	}
	return &chainsync.ConfirmedTx{
		Tx:       t,
		Header:   header,
		Height:   status.BlockHeight,
		Position: proof.Pos,
	}, nil
}

type outspend struct {
	Spent  bool       `json:"spent"`
	TxID   types.Hash `json:"txid"`
	Vin    uint32     `json:"vin"`
	Status txStatus   `json:"status"`
}

// ConfirmedSpendingTx returns the confirmed transaction spending txid:vout,
// or nil if the output is unspent or its spender is unconfirmed.
func (c *Client) ConfirmedSpendingTx(ctx context.Context, txid types.Hash, vout uint32) (*chainsync.ConfirmedTx, error) {
	var spend outspend
	err := c.getJSON(ctx, fmt.Sprintf("/tx/%s/outspend/%d", txid, vout), &spend)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !spend.Spent || !spend.Status.Confirmed {
		return nil, nil
	}
	return c.ConfirmedTx(ctx, spend.TxID)
}

// Broadcast submits a raw transaction.
func (c *Client) Broadcast(ctx context.Context, t *tx.Transaction) error {
	data, err := c.do(ctx, http.MethodPost, "/tx", strings.NewReader(hex.EncodeToString(t.Raw)))
	if err != nil {
		return fmt.Errorf("broadcast %s: %w", t.ID(), err)
	}
	log.Esplora.Debug().Str("txid", strings.TrimSpace(string(data))).Msg("Broadcast accepted")
	return nil
}

// FeeEstimates returns sat/vB estimates keyed by confirmation target in
// blocks ("1", "6", "25", ...).
func (c *Client) FeeEstimates(ctx context.Context) (map[string]float64, error) {
	var est map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &est); err != nil {
		return nil, err
	}
	return est, nil
}
