// Package abci defines the boundary between the block producer and the
// settlement application.
package abci

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}

// Receipt statuses.
const (
	StatusApplied   = "applied"
	StatusRejected  = "rejected"  // diagnostic: state reverted, error event emitted
	StatusFailed    = "failed"    // fatal: state reverted, no events
	StatusInvalid   = "invalid"   // envelope malformed or sender signature bad
	StatusDuplicate = "duplicate" // envelope hash already consumed
)

// Receipt is the outcome of one instruction.
type Receipt struct {
	TxHash common.Hash    `json:"txHash"`
	Type   string         `json:"type"`
	Sender common.Address `json:"sender"`
	Status string         `json:"status"`
	Error  string         `json:"error,omitempty"`
	Events []events.Event `json:"events"`
}

type ResponseFinalizeBlock struct {
	Height    int64
	Timestamp int64
	Receipts  []Receipt
	// Changes are the ledger records written by the block, in key order.
	Changes []ledger.Change
	AppHash common.Hash
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Block is the committed record of one height.
type Block struct {
	Height    int64       `json:"height"`
	Timestamp int64       `json:"timestamp"`
	PrevHash  common.Hash `json:"prevHash"`
	AppHash   common.Hash `json:"appHash"`
	Txs       [][]byte    `json:"txs"`
	Receipts  []Receipt   `json:"receipts"`
}
