package transaction

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethCrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/kernel"
)

// TxType names the operation an envelope carries.
type TxType string

const (
	// control
	TxSetRole            TxType = "access.setRole"
	TxToggleAdminControl TxType = "access.toggleAdminControl"
	TxSetPairRate        TxType = "exchange.setPairRate"
	TxCreateAccounts     TxType = "registry.createAccounts"
	TxSetAccountValid    TxType = "registry.setAccountValid"
	TxUpdateReserve      TxType = "reserve.updateReserveValues"

	// account management
	TxAddUser              TxType = "registry.addUser"
	TxRemoveUser           TxType = "registry.removeUser"
	TxChangeImplementation TxType = "registry.changeImplementation"
	TxTransfer             TxType = "registry.transfer"
	TxDeposit              TxType = "registry.deposit"

	// order lifecycle
	TxReserveCreate      TxType = "reserve.createOrder"
	TxReserveCancel      TxType = "reserve.cancelOrder"
	TxReserveProcess     TxType = "reserve.processOrder"
	TxReserveUpdateOrder TxType = "reserve.updateOrderCumulativeValue"
	TxLoanCreate         TxType = "kernel.createOrder"
	TxLoanRepay          TxType = "kernel.repay"
	TxLoanProcess        TxType = "kernel.process"
	TxMarginCreate       TxType = "mkernel.createOrder"
	TxMarginLiquidate    TxType = "mkernel.liquidateOrder"
	TxMarginExpiry       TxType = "mkernel.processTradeForExpiry"
	TxMarginStopProfit   TxType = "mkernel.processTradeForStopProfit"
	TxMarginStopLoss     TxType = "mkernel.processTradeForStopLoss"
)

var ErrUnknownType = errors.New("transaction: unknown type")

// Envelope is what relayers submit. The sender signs the envelope hash; the
// payload carries the user signatures the engines check.
type Envelope struct {
	Type      TxType          `json:"type"`
	Sender    common.Address  `json:"sender"`
	Nonce     *uint256.Int    `json:"nonce"`
	Payload   json.RawMessage `json:"payload"`
	Signature hexutil.Bytes   `json:"signature"`
}

// ==============================
// Payloads
// ==============================

type SetRole struct {
	Role    string         `json:"role"`
	Subject common.Address `json:"subject"`
	Enabled bool           `json:"enabled"`
}

type ToggleAdminControl struct{}

type SetPairRate struct {
	Connector common.Address `json:"connector"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Rate      *uint256.Int   `json:"rate"`
}

type CreateAccounts struct {
	Users []common.Address `json:"users"`
}

type SetAccountValid struct {
	Account common.Address `json:"account"`
	Valid   bool           `json:"valid"`
}

type UpdateReserve struct {
	Assets     []common.Address `json:"assets"`
	MaxPeriods int              `json:"maxPeriods"`
}

// UserChange is shared by addUser and removeUser.
type UserChange struct {
	Account   common.Address `json:"account"`
	User      common.Address `json:"user"`
	Salt      *uint256.Int   `json:"salt"`
	Signature hexutil.Bytes  `json:"signature"`
}

type ChangeImplementation struct {
	Account        common.Address `json:"account"`
	Implementation common.Address `json:"implementation"`
	Salt           *uint256.Int   `json:"salt"`
	Signature      hexutil.Bytes  `json:"signature"`
}

type Transfer struct {
	Account   common.Address `json:"account"`
	Asset     common.Address `json:"asset"`
	To        common.Address `json:"to"`
	Value     *uint256.Int   `json:"value"`
	Salt      *uint256.Int   `json:"salt"`
	Signature hexutil.Bytes  `json:"signature"`
}

type Deposit struct {
	Account   common.Address `json:"account"`
	Asset     common.Address `json:"asset"`
	Value     *uint256.Int   `json:"value"`
	Salt      *uint256.Int   `json:"salt"`
	Signature hexutil.Bytes  `json:"signature"`
}

type ReserveCreate struct {
	Account   common.Address `json:"account"`
	Asset     common.Address `json:"asset"`
	ByUser    common.Address `json:"byUser"`
	Value     *uint256.Int   `json:"value"`
	Duration  *uint256.Int   `json:"duration"`
	Salt      *uint256.Int   `json:"salt"`
	Signature hexutil.Bytes  `json:"signature"`
}

// OrderRef targets an existing order. Signature is only read by the
// operations that require one.
type OrderRef struct {
	OrderHash common.Hash   `json:"orderHash"`
	Signature hexutil.Bytes `json:"signature,omitempty"`
}

type UpdateOrder struct {
	OrderHash  common.Hash `json:"orderHash"`
	MaxPeriods int         `json:"maxPeriods"`
}

type LoanCreate struct {
	kernel.LoanTerms
	Signature hexutil.Bytes `json:"signature"`
}

type LoanRepay struct {
	OrderHash  common.Hash   `json:"orderHash"`
	RepayValue *uint256.Int  `json:"repayValue"`
	Signature  hexutil.Bytes `json:"signature"`
}

type LoanProcess struct {
	OrderHash common.Hash  `json:"orderHash"`
	Rate      *uint256.Int `json:"rate,omitempty"`
}

type MarginCreate struct {
	kernel.MarginTerms
	Connector common.Address `json:"connector"`
	Signature hexutil.Bytes  `json:"signature"`
}

// MarginClose drives every margin close path. A zero connector means the
// one the position was opened with; zero rates use connector quotes.
type MarginClose struct {
	OrderHash common.Hash    `json:"orderHash"`
	Connector common.Address `json:"connector,omitempty"`
	Rates     kernel.Rates   `json:"rates"`
	Signature hexutil.Bytes  `json:"signature,omitempty"`
}

func newPayload(t TxType) (any, error) {
	switch t {
	case TxSetRole:
		return new(SetRole), nil
	case TxToggleAdminControl:
		return new(ToggleAdminControl), nil
	case TxSetPairRate:
		return new(SetPairRate), nil
	case TxCreateAccounts:
		return new(CreateAccounts), nil
	case TxSetAccountValid:
		return new(SetAccountValid), nil
	case TxUpdateReserve:
		return new(UpdateReserve), nil
	case TxAddUser, TxRemoveUser:
		return new(UserChange), nil
	case TxChangeImplementation:
		return new(ChangeImplementation), nil
	case TxTransfer:
		return new(Transfer), nil
	case TxDeposit:
		return new(Deposit), nil
	case TxReserveCreate:
		return new(ReserveCreate), nil
	case TxReserveCancel, TxReserveProcess:
		return new(OrderRef), nil
	case TxReserveUpdateOrder:
		return new(UpdateOrder), nil
	case TxLoanCreate:
		return new(LoanCreate), nil
	case TxLoanRepay:
		return new(LoanRepay), nil
	case TxLoanProcess:
		return new(LoanProcess), nil
	case TxMarginCreate:
		return new(MarginCreate), nil
	case TxMarginLiquidate, TxMarginExpiry, TxMarginStopProfit, TxMarginStopLoss:
		return new(MarginClose), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
}

// ==============================
// Envelope helpers
// ==============================

// NewEnvelope marshals payload into an unsigned envelope.
func NewEnvelope(t TxType, sender common.Address, nonce *uint256.Int, payload any) (*Envelope, error) {
	if _, err := newPayload(t); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Envelope{Type: t, Sender: sender, Nonce: nonce, Payload: raw}, nil
}

// Hash is keccak256(abi.encodePacked(type, sender, nonce, keccak256(payload)))
// over the compacted payload JSON. It also identifies the envelope for replay
// protection.
func (e *Envelope) Hash() common.Hash {
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Payload); err != nil {
		buf.Reset()
		buf.Write(e.Payload)
	}
	return crypto.Pack().
		String(string(e.Type)).
		Address(e.Sender).
		Uint256(e.Nonce).
		Bytes32(ethCrypto.Keccak256Hash(buf.Bytes())).
		Hash()
}

// Sign sets the sender and signs the envelope hash with s.
func (e *Envelope) Sign(s *crypto.Signer) error {
	e.Sender = s.Address()
	sig, err := s.SignHash(e.Hash())
	if err != nil {
		return err
	}
	e.Signature = sig
	return nil
}

// Decode unmarshals the payload into the struct registered for the type.
func (e *Envelope) Decode() (any, error) {
	p, err := newPayload(e.Type)
	if err != nil {
		return nil, err
	}
	if len(e.Payload) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return p, nil
}

// Serialize converts the envelope to JSON bytes.
func (e *Envelope) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// Validate performs structural checks that need no state.
func (e *Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if _, err := newPayload(e.Type); err != nil {
		return err
	}
	if e.Sender == (common.Address{}) {
		return fmt.Errorf("missing sender")
	}
	if len(e.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	return nil
}

// ParseEnvelope deserializes and validates raw envelope bytes.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return &e, nil
}

// Example:
//
//	{
//	  "type": "kernel.repay",
//	  "sender": "0x5B38Da6a701c568545dCfcB03FcB875f56beddC4",
//	  "nonce": "7",
//	  "payload": {
//	    "orderHash": "0x9c3f...",
//	    "repayValue": "1080000000000000000",
//	    "signature": "0x1b2c..."
//	  },
//	  "signature": "0x8f21..."
//	}
