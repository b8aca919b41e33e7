package storage

import (
	"errors"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

var (
	ErrCorrupt = errors.New("storage: corrupt data")
	ErrGap     = errors.New("storage: block height out of sequence")
)

// Store persists committed blocks together with the ledger records each
// block modified. Commit is atomic: either the block and all of its records
// are written or none are.
type Store interface {
	Commit(b abci.Block, changes []ledger.Change) error
	// LoadState rebuilds the ledger from every stored record.
	LoadState() (*ledger.State, error)
	Block(height int64) (abci.Block, bool, error)
	LastBlock() (abci.Block, bool, error)
	Close() error
}

// checkSequence enforces that blocks are committed one height at a time,
// starting from the genesis block at height 0.
func checkSequence(last abci.Block, hasLast bool, next abci.Block) error {
	switch {
	case !hasLast && next.Height != 0:
		return ErrGap
	case hasLast && next.Height != last.Height+1:
		return ErrGap
	}
	return nil
}
