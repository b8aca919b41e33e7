package storage

import (
	"sort"
	"strings"
	"sync"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

// InMemoryStore keeps encoded records in maps so that a restore goes through
// the same codec as the Pebble store.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	blocks  map[int64][]byte
	tip     int64
	hasTip  bool
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records: make(map[string][]byte),
		blocks:  make(map[int64][]byte),
	}
}

func (s *InMemoryStore) Commit(b abci.Block, changes []ledger.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (s.hasTip && b.Height != s.tip+1) || (!s.hasTip && b.Height != 0) {
		return ErrGap
	}

	staged := make(map[string][]byte, len(changes))
	for _, c := range changes {
		val, err := encodeRecord(c)
		if err != nil {
			return err
		}
		staged[string(recordKey(c.Key))] = val
	}
	val, err := encodeBlock(b)
	if err != nil {
		return err
	}
	for k, v := range staged {
		s.records[k] = v
	}
	s.blocks[b.Height] = val
	s.tip, s.hasTip = b.Height, true
	return nil
}

func (s *InMemoryStore) LoadState() (*ledger.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	st := ledger.NewState()
	for _, kind := range ledger.Kinds() {
		prefix := string(recordPrefix(kind))
		for _, k := range keys {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			if err := restoreRecord(st, kind, s.records[k]); err != nil {
				return nil, err
			}
		}
	}
	return st, nil
}

func (s *InMemoryStore) Block(height int64) (abci.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block(height)
}

func (s *InMemoryStore) block(height int64) (abci.Block, bool, error) {
	val, ok := s.blocks[height]
	if !ok {
		return abci.Block{}, false, nil
	}
	b, err := decodeBlock(val)
	return b, err == nil, err
}

func (s *InMemoryStore) LastBlock() (abci.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasTip {
		return abci.Block{}, false, nil
	}
	return s.block(s.tip)
}

func (s *InMemoryStore) Close() error { return nil }

var _ Store = (*InMemoryStore)(nil)
