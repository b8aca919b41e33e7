package kernel

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/crypto"
)

const TagCancelMarginOrder = "CANCEL_MKERNEL_ORDER"

// LoanTerms are the economic terms a borrower signs.
type LoanTerms struct {
	Account   common.Address `json:"account"`
	Creator   common.Address `json:"creator"`
	LoanAsset common.Address `json:"loanAsset"`
	CollAsset common.Address `json:"collAsset"`
	LoanValue *uint256.Int   `json:"loanValue"`
	CollValue *uint256.Int   `json:"collValue"`
	Premium   *uint256.Int   `json:"premium"`
	Duration  *uint256.Int   `json:"duration"`
	Salt      *uint256.Int   `json:"salt"`
	Fee       *uint256.Int   `json:"fee"`
}

// MarginTerms extend LoanTerms with the trade leg.
type MarginTerms struct {
	LoanTerms
	TradeAsset   common.Address `json:"tradeAsset"`
	ClosingAsset common.Address `json:"closingAsset"`
	StopProfit   *uint256.Int   `json:"stopProfit"`
	StopLoss     *uint256.Int   `json:"stopLoss"`
}

// OrderHash is keccak256(abi.encodePacked(kernel, account, loan, coll,
// loanValue, collValue, premium, duration, salt, fee)).
func OrderHash(kernel common.Address, t LoanTerms) common.Hash {
	return crypto.Pack().
		Address(kernel).
		Address(t.Account).
		Address(t.LoanAsset).
		Address(t.CollAsset).
		Uint256(t.LoanValue).
		Uint256(t.CollValue).
		Uint256(t.Premium).
		Uint256(t.Duration).
		Uint256(t.Salt).
		Uint256(t.Fee).
		Hash()
}

func RepayHash(kernel common.Address, orderHash common.Hash, repayValue *uint256.Int) common.Hash {
	return crypto.Pack().Address(kernel).Bytes32(orderHash).Uint256(repayValue).Hash()
}

// TradeHash commits to the trade leg of a margin order.
func TradeHash(kernel common.Address, t MarginTerms) common.Hash {
	return crypto.Pack().
		Address(kernel).
		Address(t.TradeAsset).
		Address(t.ClosingAsset).
		Uint256(t.StopProfit).
		Uint256(t.StopLoss).
		Uint256(t.Salt).
		Hash()
}

// MarginOrderHash combines the loan and trade hashes into the signed order hash.
func MarginOrderHash(kernel common.Address, t MarginTerms) common.Hash {
	return crypto.Pack().
		Address(kernel).
		Bytes32(OrderHash(kernel, t.LoanTerms)).
		Bytes32(TradeHash(kernel, t)).
		Hash()
}

func LiquidateHash(kernel common.Address, orderHash common.Hash) common.Hash {
	return crypto.Pack().Address(kernel).Bytes32(orderHash).String(TagCancelMarginOrder).Hash()
}
