// Package events defines the log records emitted by the settlement engines and
// the diagnostic error used for soft, non-fatal rejections.
package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Event is a typed log record attached to an instruction receipt.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

const (
	TypeErrorWithHint         = "LogErrorWithHintBytes32"
	TypeOrderCreated          = "LogOrderCreated"
	TypeOrderRepaid           = "LogOrderRepaid"
	TypeOrderDefaulted        = "LogOrderDefaulted"
	TypeOrderLiquidated       = "LogOrderLiquidated"
	TypeOrderSettlement       = "LogOrderSettlement"
	TypeReserveOrderCreated   = "LogReserveOrderCreated"
	TypeReserveOrderCancelled = "LogReserveOrderCancelled"
	TypeReserveValuesUpdated  = "LogReserveValuesUpdated"
	TypeReserveOrderUpdated   = "LogReserveOrderValueUpdated"
	TypeAccountCreated        = "LogAccountCreated"
	TypeUserAdded             = "LogUserAdded"
	TypeUserRemoved           = "LogUserRemoved"
	TypeImplementationChanged = "LogImplementationChanged"
	TypeTransfer              = "LogTransfer"
	TypePairRateUpdated       = "LogPairRateUpdated"
	TypeAccessChanged         = "LogAccessChanged"
)

func attrs(kv ...string) map[string]string {
	m := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return m
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func NewErrorWithHint(methodSig string, value common.Hash, errMsg string) Event {
	return Event{Type: TypeErrorWithHint, Attributes: attrs(
		"methodSig", methodSig,
		"bytes32Value", value.Hex(),
		"errMsg", errMsg,
	)}
}

func NewOrderCreated(kernel common.Address, orderHash common.Hash, account common.Address) Event {
	return Event{Type: TypeOrderCreated, Attributes: attrs(
		"kernel", kernel.Hex(),
		"orderHash", orderHash.Hex(),
		"account", account.Hex(),
	)}
}

func NewOrderRepaid(orderHash common.Hash, valueRepaid *uint256.Int) Event {
	return Event{Type: TypeOrderRepaid, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"valueRepaid", dec(valueRepaid),
	)}
}

// NewOrderDefaulted reports a loan closed by process. The reserve books the
// sale proceeds against the principal only, so an unsafe default records a
// loss of loanValue - proceeds; the unpaid premium is not counted as a loss.
func NewOrderDefaulted(orderHash common.Hash, reason string) Event {
	return Event{Type: TypeOrderDefaulted, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"reason", reason,
	)}
}

func NewOrderLiquidated(orderHash common.Hash, reason string) Event {
	return Event{Type: TypeOrderLiquidated, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"reason", reason,
	)}
}

// Settlement summarizes how a closed margin position was split between the
// reserve and the account.
type Settlement struct {
	UserProfit     *uint256.Int
	ValueRepaid    *uint256.Int
	ReserveProfit  *uint256.Int
	CollateralLeft *uint256.Int
}

func NewOrderSettlement(orderHash common.Hash, s Settlement) Event {
	return Event{Type: TypeOrderSettlement, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"userProfit", dec(s.UserProfit),
		"valueRepaid", dec(s.ValueRepaid),
		"reserveProfit", dec(s.ReserveProfit),
		"collateralLeft", dec(s.CollateralLeft),
	)}
}

func NewReserveOrderCreated(orderHash common.Hash, account, asset common.Address, value *uint256.Int) Event {
	return Event{Type: TypeReserveOrderCreated, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"account", account.Hex(),
		"asset", asset.Hex(),
		"value", dec(value),
	)}
}

func NewReserveOrderCancelled(orderHash common.Hash, payout *uint256.Int) Event {
	return Event{Type: TypeReserveOrderCancelled, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"payout", dec(payout),
	)}
}

func NewReserveValuesUpdated(asset common.Address, periods int, index *uint256.Int) Event {
	return Event{Type: TypeReserveValuesUpdated, Attributes: attrs(
		"asset", asset.Hex(),
		"periods", strconv.Itoa(periods),
		"index", dec(index),
	)}
}

func NewReserveOrderUpdated(orderHash common.Hash, appliedIndex *uint256.Int) Event {
	return Event{Type: TypeReserveOrderUpdated, Attributes: attrs(
		"orderHash", orderHash.Hex(),
		"appliedIndex", dec(appliedIndex),
	)}
}

func NewAccountCreated(account, user common.Address) Event {
	return Event{Type: TypeAccountCreated, Attributes: attrs(
		"account", account.Hex(),
		"user", user.Hex(),
	)}
}

func NewUserAdded(account, user common.Address) Event {
	return Event{Type: TypeUserAdded, Attributes: attrs("account", account.Hex(), "user", user.Hex())}
}

func NewUserRemoved(account, user common.Address) Event {
	return Event{Type: TypeUserRemoved, Attributes: attrs("account", account.Hex(), "user", user.Hex())}
}

func NewImplementationChanged(account, impl common.Address) Event {
	return Event{Type: TypeImplementationChanged, Attributes: attrs("account", account.Hex(), "implementation", impl.Hex())}
}

func NewTransfer(asset, from, to common.Address, value *uint256.Int) Event {
	return Event{Type: TypeTransfer, Attributes: attrs(
		"asset", asset.Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"value", dec(value),
	)}
}

func NewPairRateUpdated(connector, from, to common.Address, rate *uint256.Int) Event {
	return Event{Type: TypePairRateUpdated, Attributes: attrs(
		"connector", connector.Hex(),
		"from", from.Hex(),
		"to", to.Hex(),
		"rate", dec(rate),
	)}
}

func NewAccessChanged(role string, subject common.Address, enabled bool) Event {
	return Event{Type: TypeAccessChanged, Attributes: attrs(
		"role", role,
		"subject", subject.Hex(),
		"enabled", strconv.FormatBool(enabled),
	)}
}
