// Package kernel implements the order engines that borrow from the reserve:
// the loan kernel for plain collateralized loans and the margin kernel for
// leveraged trades.
package kernel

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/escrow"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/exchange"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/registry"
	"github.com/uhyunpark/hyperlend/pkg/reserve"
)

const (
	MethodCreateOrder = "Kernel::createOrder"
	MethodRepay       = "Kernel::repay"
	MethodProcess     = "Kernel::process"
)

// Deps are the collaborators shared by both kernels.
type Deps struct {
	Escrow     *escrow.Escrow
	Registry   *registry.Registry
	Reserve    *reserve.Reserve
	Connectors exchange.Source
	Auth       crypto.Authenticator
}

// base holds what both kernels need to move funds. The kernel address owns its
// escrow and must be a registered handler.
type base struct {
	address common.Address
	Deps
}

func (b *base) Address() common.Address       { return b.address }
func (b *base) EscrowAddress() common.Address { return b.Escrow.Address() }

func validTerms(t LoanTerms) bool {
	return !fixed.IsZero(t.LoanValue) && !fixed.IsZero(t.CollValue) && !fixed.IsZero(t.Duration) &&
		t.LoanAsset != (common.Address{}) && t.CollAsset != (common.Address{})
}

// admit runs the checks every order creation shares after the signature.
func (b *base) admit(ctx *ledger.Context, method string, hash common.Hash, t LoanTerms, exists bool) error {
	if !validTerms(t) {
		return events.Reject(method, hash, events.ReasonInvalidOrderValues)
	}
	if !b.Registry.IsAccountValid(ctx.State, t.Account) || !b.Registry.IsUser(ctx.State, t.Account, t.Creator) {
		return events.Reject(method, hash, events.ReasonInvalidOrderAccount)
	}
	if exists {
		return events.Reject(method, hash, events.ReasonOrderAlreadyExists)
	}
	return nil
}

func (b *base) pullCollateral(ctx *ledger.Context, t LoanTerms) error {
	return b.Registry.TransferBySystem(ctx, b.address, t.Account, t.CollAsset, b.Escrow.Address(), t.CollValue)
}

// chargeFee pays the relayer that submitted the order.
func (b *base) chargeFee(ctx *ledger.Context, t LoanTerms) error {
	if fixed.IsZero(t.Fee) || ctx.Sender == (common.Address{}) {
		return nil
	}
	return b.Registry.TransferBySystem(ctx, b.address, t.Account, t.LoanAsset, ctx.Sender, t.Fee)
}

func (b *base) lookupConnector(ctx *ledger.Context, method string, hash common.Hash, addr common.Address) (exchange.Connector, error) {
	conn, ok := b.Connectors.Lookup(ctx.State, addr)
	if !ok {
		return nil, events.Reject(method, hash, events.ReasonInvalidExchangeConnector)
	}
	return conn, nil
}

// resolveRate returns the supplied rate, or the connector quote when it is zero.
func resolveRate(ctx *ledger.Context, method string, hash common.Hash, conn exchange.Connector, from, to common.Address, supplied *uint256.Int) (*uint256.Int, error) {
	if from == to {
		return fixed.Clone(fixed.One), nil
	}
	if !fixed.IsZero(supplied) {
		return fixed.Clone(supplied), nil
	}
	r, err := conn.GetRate(ctx.State, from, to)
	if err != nil {
		return nil, convertErr(method, hash, err)
	}
	return r, nil
}

// convertErr turns quote problems into diagnostics; liquidity and arithmetic
// failures stay fatal.
func convertErr(method string, hash common.Hash, err error) error {
	switch {
	case errors.Is(err, exchange.ErrNoRate):
		return events.Reject(method, hash, events.ReasonInvalidExchangeRate)
	case errors.Is(err, exchange.ErrRateOutOfBand):
		return events.Reject(method, hash, events.ReasonRateOutOfBand)
	}
	return err
}

// ==============================
// Loan kernel
// ==============================

// Kernel issues single-asset collateralized loans out of the reserve.
type Kernel struct {
	base
	// connector liquidates collateral of defaulted orders.
	connector common.Address
}

func New(address, connector common.Address, deps Deps) *Kernel {
	return &Kernel{base: base{address: address, Deps: deps}, connector: connector}
}

func (k *Kernel) OrderHash(t LoanTerms) common.Hash { return OrderHash(k.address, t) }

// CreateOrder opens a loan: collateral moves from the account into the
// kernel escrow and the loan value is lent from the reserve to the account.
func (k *Kernel) CreateOrder(ctx *ledger.Context, t LoanTerms, sig []byte) (common.Hash, error) {
	hash := OrderHash(k.address, t)
	if !crypto.Authorized(k.Auth, hash, sig, t.Creator) {
		return hash, events.Reject(MethodCreateOrder, hash, events.ReasonSignerNotOrderCreator)
	}
	_, exists := ctx.State.LoanOrder(hash)
	if err := k.admit(ctx, MethodCreateOrder, hash, t, exists); err != nil {
		return hash, err
	}

	if err := k.pullCollateral(ctx, t); err != nil {
		return hash, err
	}
	if err := k.Reserve.Release(ctx, k.address, t.LoanAsset, t.Account, t.LoanValue); err != nil {
		return hash, err
	}
	if err := k.chargeFee(ctx, t); err != nil {
		return hash, err
	}

	ctx.State.PutLoanOrder(newLoanOrder(hash, k.address, t, ctx.Time))
	ctx.Emit(events.NewOrderCreated(k.address, hash, t.Account))
	return hash, nil
}

func newLoanOrder(hash common.Hash, kernel common.Address, t LoanTerms, now int64) *ledger.LoanOrder {
	return &ledger.LoanOrder{
		Hash:      hash,
		Kernel:    kernel,
		Creator:   t.Creator,
		Account:   t.Account,
		LoanAsset: t.LoanAsset,
		CollAsset: t.CollAsset,
		LoanValue: fixed.Clone(t.LoanValue),
		CollValue: fixed.Clone(t.CollValue),
		Premium:   fixed.Clone(t.Premium),
		Duration:  fixed.Clone(t.Duration),
		Salt:      fixed.Clone(t.Salt),
		Fee:       fixed.Clone(t.Fee),
		CreatedAt: now,
	}
}

// Repay settles an open loan. repayValue must equal loan plus premium.
func (k *Kernel) Repay(ctx *ledger.Context, orderHash common.Hash, repayValue *uint256.Int, sig []byte) error {
	o, ok := ctx.State.LoanOrder(orderHash)
	if !ok {
		return events.Reject(MethodRepay, orderHash, events.ReasonOrderDoesNotExist)
	}
	hash := RepayHash(k.address, orderHash, repayValue)
	if !crypto.Authorized(k.Auth, hash, sig, o.Creator) {
		return events.Reject(MethodRepay, hash, events.ReasonSignerNotOrderCreator)
	}
	if !o.Open() {
		return events.Reject(MethodRepay, orderHash, events.ReasonOrderNotOpen)
	}
	owed, err := o.Owed()
	if err != nil {
		return err
	}
	if fixed.IsZero(repayValue) || !repayValue.Eq(owed) {
		return events.Reject(MethodRepay, orderHash, events.ReasonInvalidRepayValue)
	}
	premium, err := o.PremiumValue()
	if err != nil {
		return err
	}

	if err := k.Reserve.Lock(ctx, k.address, o.LoanAsset, o.Account, owed, premium, nil); err != nil {
		return err
	}
	if err := k.Escrow.Release(ctx, k.address, o.CollAsset, o.Account, o.CollValue); err != nil {
		return err
	}

	o.Repaid = true
	ctx.State.PutLoanOrder(o)
	ctx.Emit(events.NewOrderRepaid(orderHash, owed))
	return nil
}

// Process defaults an open order that has expired or whose collateral at rate
// is worth less than the loan. A zero rate uses the connector quote. Orders
// that are neither are left untouched.
func (k *Kernel) Process(ctx *ledger.Context, orderHash common.Hash, rate *uint256.Int) error {
	o, ok := ctx.State.LoanOrder(orderHash)
	if !ok {
		return events.Reject(MethodProcess, orderHash, events.ReasonOrderDoesNotExist)
	}
	if !o.Open() {
		return events.Reject(MethodProcess, orderHash, events.ReasonOrderNotOpen)
	}
	conn, err := k.lookupConnector(ctx, MethodProcess, orderHash, k.connector)
	if err != nil {
		return err
	}
	r, err := resolveRate(ctx, MethodProcess, orderHash, conn, o.CollAsset, o.LoanAsset, rate)
	if err != nil {
		return err
	}

	collInLoan, err := fixed.Mul(o.CollValue, r)
	if err != nil {
		return err
	}
	expired := o.Expired(ctx.Time)
	unsafe := collInLoan.Lt(o.LoanValue)
	if !expired && !unsafe {
		return nil
	}
	reason := events.ReasonKernelOrderUnsafe
	if expired {
		reason = events.ReasonKernelDueDatePassed
	}

	owed, err := o.Owed()
	if err != nil {
		return err
	}
	needed, err := fixed.DivUp(owed, r)
	if err != nil {
		return err
	}
	sell := fixed.Min(needed, o.CollValue)

	if err := k.Escrow.Release(ctx, k.address, o.CollAsset, k.address, sell); err != nil {
		return err
	}
	proceeds, err := conn.Convert(ctx, k.address, o.CollAsset, o.LoanAsset, sell, r)
	if err != nil {
		return convertErr(MethodProcess, orderHash, err)
	}
	profit := fixed.SubFloor(proceeds, o.LoanValue)
	loss := fixed.SubFloor(o.LoanValue, proceeds)
	if err := k.Reserve.Lock(ctx, k.address, o.LoanAsset, k.address, proceeds, profit, loss); err != nil {
		return err
	}
	left, err := fixed.Sub(o.CollValue, sell)
	if err != nil {
		return err
	}
	if err := k.Escrow.Release(ctx, k.address, o.CollAsset, o.Account, left); err != nil {
		return fmt.Errorf("return collateral: %w", err)
	}

	o.Defaulted = true
	ctx.State.PutLoanOrder(o)
	ctx.Emit(events.NewOrderDefaulted(orderHash, reason))
	return nil
}
