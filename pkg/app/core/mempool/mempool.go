package mempool

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
)

// Class buckets instructions for block ordering.
type Class int

const (
	// Control covers role changes, rate quotes, account creation and
	// reserve index updates. They run first so the rest of the block sees
	// fresh quotes and indexes.
	Control Class = iota
	// Closing covers repayments, defaults, liquidations and reserve
	// withdrawals.
	Closing
	// Opening covers new orders, deposits and account changes.
	Opening
)

func (c Class) String() string {
	switch c {
	case Control:
		return "control"
	case Closing:
		return "closing"
	default:
		return "opening"
	}
}

var closing = map[transaction.TxType]bool{
	transaction.TxLoanRepay:          true,
	transaction.TxLoanProcess:        true,
	transaction.TxMarginLiquidate:    true,
	transaction.TxMarginExpiry:       true,
	transaction.TxMarginStopProfit:   true,
	transaction.TxMarginStopLoss:     true,
	transaction.TxReserveCancel:      true,
	transaction.TxReserveProcess:     true,
	transaction.TxReserveUpdateOrder: true,
}

var control = map[transaction.TxType]bool{
	transaction.TxSetPairRate:     true,
	transaction.TxCreateAccounts:  true,
	transaction.TxSetAccountValid: true,
	transaction.TxUpdateReserve:   true,
}

// ClassifyRaw reads the envelope type. Malformed input lands in Opening; the
// app rejects it when the block is applied.
func ClassifyRaw(b []byte) Class {
	if len(b) == 0 || b[0] != '{' {
		return Opening
	}
	var envelope struct {
		Type transaction.TxType `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return Opening
	}
	switch {
	case strings.HasPrefix(string(envelope.Type), "access."), control[envelope.Type]:
		return Control
	case closing[envelope.Type]:
		return Closing
	default:
		return Opening
	}
}

// Mempool keeps one FIFO queue per class and drains them in class order.
type Mempool struct {
	mu     sync.Mutex
	queues [3][][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) Class {
	cp := append([]byte(nil), b...)
	c := ClassifyRaw(b)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[c] = append(m.queues[c], cp)
	return c
}

// SelectForProposal returns up to maxBytes worth of txs in class order,
// removing them from the pool. maxBytes <= 0 means no limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	for c := range m.queues {
		q := m.queues[c]
		for len(q) > 0 {
			n := int64(len(q[0]))
			if maxBytes > 0 && used+n > maxBytes {
				break
			}
			out = append(out, q[0])
			used += n
			q = q[1:]
		}
		m.queues[c] = q
		if maxBytes > 0 && len(q) > 0 {
			// a later class must not overtake a blocked earlier one
			break
		}
	}
	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}
