package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/events"
)

// API response types for REST endpoints and WebSocket messages.
// Amounts are 1e18 fixed-point integers encoded as decimal strings.

// ==============================
// REST Types
// ==============================

// SubmitTxResponse is the response from POST /api/v1/tx
type SubmitTxResponse struct {
	Status    string      `json:"status"` // "queued"
	RequestID string      `json:"requestId"`
	TxHash    common.Hash `json:"txHash"`
	Type      string      `json:"type"`
	Class     string      `json:"class"` // mempool bucket: control, closing, opening
}

// BalanceInfo is a single holder/asset balance with a human readable copy.
type BalanceInfo struct {
	Holder  common.Address `json:"holder"`
	Asset   common.Address `json:"asset"`
	Value   string         `json:"value"`
	Decimal string         `json:"decimal"`
}

type RateInfo struct {
	Connector common.Address `json:"connector"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Rate      string         `json:"rate"`
	Decimal   string         `json:"decimal"`
}

// ContractsInfo lists the addresses clients sign payloads against.
type ContractsInfo struct {
	Registry common.Address `json:"registry"`
	Kernel   common.Address `json:"kernel"`
	Margin   common.Address `json:"marginKernel"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

const (
	ChannelBlocks = "blocks"
	ChannelEvents = "events"
	// ChannelTxPrefix + tx hash delivers the receipt of a single envelope.
	ChannelTxPrefix = "tx:"
)

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["blocks", "events", "tx:0x..."]
}

// BlockUpdate is broadcast on every committed block
type BlockUpdate struct {
	Type      string         `json:"type"` // "block"
	Height    int64          `json:"height"`
	Timestamp int64          `json:"timestamp"`
	AppHash   common.Hash    `json:"appHash"`
	Receipts  []abci.Receipt `json:"receipts"`
}

// EventUpdate carries one event emitted by an applied or rejected instruction
type EventUpdate struct {
	Type   string       `json:"type"` // "event"
	Height int64        `json:"height"`
	TxHash common.Hash  `json:"txHash"`
	Status string       `json:"status"`
	Event  events.Event `json:"event"`
}

// ReceiptUpdate is sent to subscribers of a single tx hash
type ReceiptUpdate struct {
	Type    string       `json:"type"` // "receipt"
	Height  int64        `json:"height"`
	Receipt abci.Receipt `json:"receipt"`
}
