package storage

import (
	"encoding/binary"

	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

// Key schema:
//
//	r:<kind>:<id>     → ledger record (JSON)
//	b:<8-byte height> → committed block (JSON)
//	tip               → height of the last committed block
const (
	prefixRecord = "r:"
	prefixBlock  = "b:"
)

var keyTip = []byte("tip")

func recordKey(k ledger.Key) []byte {
	return []byte(prefixRecord + string(k.Kind) + ":" + k.ID)
}

// recordPrefix returns the prefix shared by every record of kind.
func recordPrefix(kind ledger.Kind) []byte {
	return []byte(prefixRecord + string(kind) + ":")
}

func blockKey(height int64) []byte {
	return append([]byte(prefixBlock), heightBytes(height)...)
}

func heightBytes(h int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(h))
	return k[:]
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
