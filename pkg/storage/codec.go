package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

func encodeRecord(c ledger.Change) ([]byte, error) {
	b, err := json.Marshal(c.Value)
	if err != nil {
		return nil, fmt.Errorf("encode %s:%s: %w", c.Key.Kind, c.Key.ID, err)
	}
	return b, nil
}

// restoreRecord decodes a stored value of kind and loads it into st.
func restoreRecord(st *ledger.State, kind ledger.Kind, val []byte) error {
	rec, err := ledger.NewRecord(kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(val, rec); err != nil {
		return fmt.Errorf("decode %s record: %w", kind, err)
	}
	return st.Restore(rec)
}

func encodeBlock(b abci.Block) ([]byte, error) {
	val, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode block %d: %w", b.Height, err)
	}
	return val, nil
}

func decodeBlock(val []byte) (abci.Block, error) {
	var out abci.Block
	if err := json.Unmarshal(val, &out); err != nil {
		return abci.Block{}, fmt.Errorf("decode block: %w", err)
	}
	return out, nil
}

func decodeHeight(val []byte) (int64, error) {
	if len(val) != 8 {
		return 0, fmt.Errorf("%w: tip is %d bytes", ErrCorrupt, len(val))
	}
	return int64(binary.BigEndian.Uint64(val)), nil
}
