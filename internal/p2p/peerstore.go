package p2p

import (
	"encoding/json"
	"fmt"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/Klingon-tech/lnsync/internal/storage"
)

const peerKeyPrefix = "peer/"

// PeerRecord is a peer we completed a handshake with.
type PeerRecord struct {
	ID       NodeID `json:"id"`
	Addr     string `json:"addr"`      // multiaddr string
	LastSeen int64  `json:"last_seen"` // unix timestamp
}

// Peer decodes the record back into a dialable peer.
func (r PeerRecord) Peer() (Peer, error) {
	addr, err := ma.NewMultiaddr(r.Addr)
	if err != nil {
		return Peer{}, fmt.Errorf("peer record %s: %w", r.ID, err)
	}
	return Peer{ID: r.ID, Addr: addr}, nil
}

// PeerStore persists peer records under the "peer/" prefix.
type PeerStore struct {
	db storage.DB
}

// NewPeerStore creates a PeerStore backed by db.
func NewPeerStore(db storage.DB) *PeerStore {
	return &PeerStore{db: db}
}

func peerKey(id NodeID) []byte {
	return []byte(peerKeyPrefix + id.String())
}

// Touch records that p was reachable at the given time.
func (ps *PeerStore) Touch(p Peer, at time.Time) error {
	rec := PeerRecord{ID: p.ID, Addr: p.Addr.String(), LastSeen: at.Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal peer record: %w", err)
	}
	return ps.db.Put(peerKey(p.ID), data)
}

// Load returns the record for id, or storage.ErrNotFound.
func (ps *PeerStore) Load(id NodeID) (*PeerRecord, error) {
	var rec PeerRecord
	if err := storage.GetJSON(ps.db, peerKey(id), &rec); err != nil {
		return nil, fmt.Errorf("get peer record: %w", err)
	}
	return &rec, nil
}

// LoadAll returns every persisted record. Corrupt records are skipped.
func (ps *PeerStore) LoadAll() ([]PeerRecord, error) {
	var records []PeerRecord
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var rec PeerRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return nil
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate peer records: %w", err)
	}
	return records, nil
}

// PruneStale removes records last seen before now-threshold and returns
// how many were removed.
func (ps *PeerStore) PruneStale(threshold time.Duration) (int, error) {
	cutoff := time.Now().Add(-threshold).Unix()
	var stale [][]byte
	err := ps.db.ForEach([]byte(peerKeyPrefix), func(key, value []byte) error {
		var rec PeerRecord
		if err := json.Unmarshal(value, &rec); err != nil || rec.LastSeen < cutoff {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("iterate for prune: %w", err)
	}
	for _, k := range stale {
		if err := ps.db.Delete(k); err != nil {
			return 0, fmt.Errorf("delete stale peer: %w", err)
		}
	}
	return len(stale), nil
}
