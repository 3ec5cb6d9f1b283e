// Package gossip keeps the routing graph current using rapid gossip sync
// snapshots.
package gossip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/metrics"
	"github.com/Klingon-tech/lnsync/internal/storage"
)

// DefaultTimeout bounds one snapshot download.
const DefaultTimeout = 30 * time.Second

// maxSnapshot bounds the snapshot size accepted from the server.
const maxSnapshot = 64 << 20

var keyTimestamp = []byte("g/timestamp")

// GraphApplier applies a snapshot to the routing graph and returns the
// snapshot's timestamp, which becomes the next request's starting point.
type GraphApplier interface {
	ApplySnapshot(data []byte) (timestamp uint32, err error)
}

// ErrApply wraps failures returned by the GraphApplier.
var ErrApply = errors.New("apply graph snapshot")

// Client downloads snapshots from a rapid gossip sync server.
type Client struct {
	url     string
	http    *http.Client
	applier GraphApplier
	db      storage.DB
	metrics *metrics.Metrics

	mu sync.Mutex // serializes Sync
}

// New creates a client. url is the snapshot prefix; the last sync
// timestamp is appended to it. db may be nil, in which case every
// process start requests a full snapshot.
func New(url string, applier GraphApplier, db storage.DB) *Client {
	return &Client{
		url:     url,
		http:    &http.Client{Timeout: DefaultTimeout},
		applier: applier,
		db:      db,
	}
}

// SetMetrics attaches a metrics sink.
func (c *Client) SetMetrics(m *metrics.Metrics) {
	c.metrics = m
}

// LastTimestamp returns the timestamp of the last applied snapshot, or 0.
func (c *Client) LastTimestamp() (uint32, error) {
	if c.db == nil {
		return 0, nil
	}
	raw, err := c.db.Get(keyTimestamp)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load gossip timestamp: %w", err)
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("load gossip timestamp: bad length %d", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (c *Client) saveTimestamp(ts uint32) error {
	if c.db == nil {
		return nil
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ts)
	return c.db.Put(keyTimestamp, b[:])
}

// Sync fetches the snapshot since the last timestamp and applies it.
func (c *Client) Sync(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer func() { c.metrics.GossipSync(err) }()

	last, err := c.LastTimestamp()
	if err != nil {
		return err
	}

	data, err := c.fetch(ctx, last)
	if err != nil {
		return err
	}

	ts, err := c.applier.ApplySnapshot(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApply, err)
	}
	if err := c.saveTimestamp(ts); err != nil {
		log.Gossip.Warn().Err(err).Msg("Failed to persist gossip timestamp")
	}
	log.Gossip.Info().
		Uint32("from", last).
		Uint32("to", ts).
		Int("bytes", len(data)).
		Msg("Network graph updated")
	return nil
}

func (c *Client) fetch(ctx context.Context, since uint32) ([]byte, error) {
	url := c.url + strconv.FormatUint(uint64(since), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rgs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rgs server returned %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshot))
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return data, nil
}
