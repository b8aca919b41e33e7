package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Commit writes the block, its records and the new tip in one synced batch.
func (s *PebbleStore) Commit(b abci.Block, changes []ledger.Change) error {
	last, ok, err := s.LastBlock()
	if err != nil {
		return err
	}
	if err := checkSequence(last, ok, b); err != nil {
		return fmt.Errorf("%w: got %d after %d", err, b.Height, last.Height)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	for _, c := range changes {
		val, err := encodeRecord(c)
		if err != nil {
			return err
		}
		if err := batch.Set(recordKey(c.Key), val, nil); err != nil {
			return err
		}
	}
	val, err := encodeBlock(b)
	if err != nil {
		return err
	}
	if err := batch.Set(blockKey(b.Height), val, nil); err != nil {
		return err
	}
	if err := batch.Set(keyTip, heightBytes(b.Height), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit block %d: %w", b.Height, err)
	}
	return nil
}

func (s *PebbleStore) LoadState() (*ledger.State, error) {
	st := ledger.NewState()
	for _, kind := range ledger.Kinds() {
		prefix := recordPrefix(kind)
		iter, err := s.db.NewIter(&pebble.IterOptions{
			LowerBound: prefix,
			UpperBound: keyUpperBound(prefix),
		})
		if err != nil {
			return nil, err
		}
		for iter.First(); iter.Valid(); iter.Next() {
			if err := restoreRecord(st, kind, iter.Value()); err != nil {
				iter.Close()
				return nil, fmt.Errorf("%s: %w", iter.Key(), err)
			}
		}
		if err := iter.Close(); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (s *PebbleStore) Block(height int64) (abci.Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(height))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return abci.Block{}, false, nil
		}
		return abci.Block{}, false, err
	}
	defer closer.Close()
	b, err := decodeBlock(val)
	return b, err == nil, err
}

func (s *PebbleStore) LastBlock() (abci.Block, bool, error) {
	val, closer, err := s.db.Get(keyTip)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return abci.Block{}, false, nil
		}
		return abci.Block{}, false, err
	}
	h, err := decodeHeight(val)
	closer.Close()
	if err != nil {
		return abci.Block{}, false, err
	}
	b, ok, err := s.Block(h)
	if err == nil && !ok {
		err = fmt.Errorf("%w: tip %d has no block", ErrCorrupt, h)
	}
	return b, ok, err
}

var _ Store = (*PebbleStore)(nil)
