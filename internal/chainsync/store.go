package chainsync

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/lnsync/internal/storage"
	"github.com/Klingon-tech/lnsync/pkg/types"
)

// TipStore persists the synced tip across restarts.
type TipStore interface {
	LoadTip() (hash types.Hash, height uint32, ok bool, err error)
	SaveTip(hash types.Hash, height uint32) error
}

var (
	keyTipHash   = []byte("s/tip")
	keyTipHeight = []byte("s/height")
)

// DBTipStore keeps the tip in a storage.DB.
type DBTipStore struct {
	db storage.DB
}

// NewDBTipStore creates a tip store backed by db.
func NewDBTipStore(db storage.DB) *DBTipStore {
	return &DBTipStore{db: db}
}

// SaveTip writes hash and height, atomically when the DB supports batches.
func (s *DBTipStore) SaveTip(hash types.Hash, height uint32) error {
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], height)

	if batcher, ok := s.db.(storage.Batcher); ok {
		b := batcher.NewBatch()
		if err := b.Put(keyTipHash, hash[:]); err != nil {
			return fmt.Errorf("tip put: %w", err)
		}
		if err := b.Put(keyTipHeight, hb[:]); err != nil {
			return fmt.Errorf("tip height put: %w", err)
		}
		return b.Commit()
	}
	if err := s.db.Put(keyTipHash, hash[:]); err != nil {
		return fmt.Errorf("tip put: %w", err)
	}
	if err := s.db.Put(keyTipHeight, hb[:]); err != nil {
		return fmt.Errorf("tip height put: %w", err)
	}
	return nil
}

// LoadTip returns ok=false if no tip was saved yet.
func (s *DBTipStore) LoadTip() (types.Hash, uint32, bool, error) {
	raw, err := s.db.Get(keyTipHash)
	if errors.Is(err, storage.ErrNotFound) {
		return types.Hash{}, 0, false, nil
	}
	if err != nil {
		return types.Hash{}, 0, false, fmt.Errorf("tip get: %w", err)
	}
	hash, err := types.HashFromBytes(raw)
	if err != nil {
		return types.Hash{}, 0, false, fmt.Errorf("tip decode: %w", err)
	}

	var height uint32
	hb, err := s.db.Get(keyTipHeight)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return types.Hash{}, 0, false, fmt.Errorf("tip height get: %w", err)
	case len(hb) != 4:
		return types.Hash{}, 0, false, fmt.Errorf("tip height: bad length %d", len(hb))
	default:
		height = binary.BigEndian.Uint32(hb)
	}
	return hash, height, true, nil
}
