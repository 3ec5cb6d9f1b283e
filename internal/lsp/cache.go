package lsp

import (
	"errors"
	"fmt"
	"sync"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/lnsync/internal/log"
	"github.com/Klingon-tech/lnsync/internal/p2p"
	"github.com/Klingon-tech/lnsync/internal/storage"
)

var keyInfo = []byte("lsp/info")

// infoRecord is the stored form of Info.
type infoRecord struct {
	Name            string      `json:"name"`
	PubKey          p2p.NodeID  `json:"pubkey"`
	NodeID          p2p.NodeID  `json:"node_id"`
	NodeAddr        string      `json:"node_addr"`
	Fee             Fee         `json:"fee"`
	Routing         RoutingFees `json:"routing"`
	CLTVExpiryDelta uint16      `json:"cltv_expiry_delta"`
	HTLCMinimumMsat uint64      `json:"htlc_minimum_msat"`
}

// Cache holds the last known LSP info. It is safe for concurrent use.
type Cache struct {
	mu   sync.Mutex
	info *Info
	db   storage.DB
}

// NewCache creates a cache. When db is non-nil the info is persisted and
// the previous value is loaded immediately.
func NewCache(db storage.DB) *Cache {
	c := &Cache{db: db}
	if db == nil {
		return c
	}
	info, err := c.load()
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		log.LSP.Warn().Err(err).Msg("Ignoring stored LSP info")
	default:
		c.info = info
	}
	return c
}

// Get returns a copy of the cached info, or nil.
func (c *Cache) Get() *Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return nil
	}
	cp := *c.info
	return &cp
}

// Update stores info and reports whether it differs from the cached value.
func (c *Cache) Update(info *Info) bool {
	if info == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info.Equal(info) {
		return false
	}
	cp := *info
	c.info = &cp
	if c.db != nil {
		if err := c.save(&cp); err != nil {
			log.LSP.Warn().Err(err).Msg("Failed to persist LSP info")
		}
	}
	return true
}

func (c *Cache) save(info *Info) error {
	return storage.PutJSON(c.db, keyInfo, infoRecord{
		Name:            info.Name,
		PubKey:          info.PubKey,
		NodeID:          info.Node.ID,
		NodeAddr:        info.Node.Addr.String(),
		Fee:             info.Fee,
		Routing:         info.Routing,
		CLTVExpiryDelta: info.CLTVExpiryDelta,
		HTLCMinimumMsat: info.HTLCMinimumMsat,
	})
}

func (c *Cache) load() (*Info, error) {
	var rec infoRecord
	if err := storage.GetJSON(c.db, keyInfo, &rec); err != nil {
		return nil, err
	}
	addr, err := ma.NewMultiaddr(rec.NodeAddr)
	if err != nil {
		return nil, fmt.Errorf("stored lsp address: %w", err)
	}
	return &Info{
		Name:            rec.Name,
		PubKey:          rec.PubKey,
		Node:            p2p.Peer{ID: rec.NodeID, Addr: addr},
		Fee:             rec.Fee,
		Routing:         rec.Routing,
		CLTVExpiryDelta: rec.CLTVExpiryDelta,
		HTLCMinimumMsat: rec.HTLCMinimumMsat,
	}, nil
}
