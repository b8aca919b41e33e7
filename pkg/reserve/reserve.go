// Package reserve implements the pooled lending reserve. Depositors own shares
// of a per-asset pool; kernels borrow from it and lock repayments back with
// the profit or loss of each loan, which keepers fold into the pool index once
// a period has closed.
package reserve

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/access"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/escrow"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/registry"
)

const (
	MethodCreateOrder       = "Reserve::createOrder"
	MethodCancelOrder       = "Reserve::cancelOrder"
	MethodProcessOrder      = "Reserve::processOrder"
	MethodRelease           = "Reserve::release"
	MethodLock              = "Reserve::lock"
	MethodUpdateValues      = "Reserve::updateReserveValues"
	MethodUpdateOrderValues = "Reserve::updateOrderCumulativeValue"

	TagCancelOrder = "CANCEL_RESERVE_ORDER"

	// PeriodSeconds is the length of one profit/loss bucket.
	PeriodSeconds = 86400
)

type Reserve struct {
	address  common.Address
	escrow   *escrow.Escrow
	registry *registry.Registry
	auth     crypto.Authenticator
}

// New wires a reserve to its escrow. The escrow must be owned by address, and
// address must be a registered handler so it can pull from accounts.
func New(address common.Address, esc *escrow.Escrow, reg *registry.Registry, auth crypto.Authenticator) *Reserve {
	return &Reserve{address: address, escrow: esc, registry: reg, auth: auth}
}

func (r *Reserve) Address() common.Address       { return r.address }
func (r *Reserve) EscrowAddress() common.Address { return r.escrow.Address() }

func OrderHash(account, asset common.Address, value, duration, salt *uint256.Int) common.Hash {
	return crypto.Pack().
		Address(account).
		Address(asset).
		Uint256(value).
		Uint256(duration).
		Uint256(salt).
		Hash()
}

func CancelHash(orderHash common.Hash) common.Hash {
	return crypto.Pack().Bytes32(orderHash).String(TagCancelOrder).Hash()
}

func period(now int64) int64 { return now / PeriodSeconds }

// ==============================
// Depositor orders
// ==============================

// CreateOrder deposits value of asset from account into the pool on byUser's
// signature and returns the order hash.
func (r *Reserve) CreateOrder(ctx *ledger.Context, account, asset, byUser common.Address, value, duration, salt *uint256.Int, sig []byte) (common.Hash, error) {
	hash := OrderHash(account, asset, value, duration, salt)
	if !crypto.Authorized(r.auth, hash, sig, byUser) {
		return hash, events.Reject(MethodCreateOrder, hash, events.ReasonSignerNotOrderCreator)
	}
	if fixed.IsZero(value) {
		return hash, events.Reject(MethodCreateOrder, hash, events.ReasonInvalidOrderValues)
	}
	if !r.registry.IsAccountValid(ctx.State, account) || !r.registry.IsUser(ctx.State, account, byUser) {
		return hash, events.Reject(MethodCreateOrder, hash, events.ReasonInvalidOrderAccount)
	}
	if _, exists := ctx.State.ReserveOrder(hash); exists {
		return hash, events.Reject(MethodCreateOrder, hash, events.ReasonOrderAlreadyExists)
	}

	if err := r.registry.TransferBySystem(ctx, r.address, account, asset, r.escrow.Address(), value); err != nil {
		return hash, err
	}

	pool := ctx.State.Pool(asset)
	shares, err := fixed.Div(value, pool.Index)
	if err != nil {
		return hash, err
	}
	if pool.TotalShares, err = fixed.Add(pool.TotalShares, shares); err != nil {
		return hash, err
	}
	ctx.State.PutPool(pool)

	ctx.State.PutReserveOrder(&ledger.ReserveOrder{
		Hash:         hash,
		Depositor:    byUser,
		Account:      account,
		Asset:        asset,
		Principal:    fixed.Clone(value),
		Shares:       shares,
		Duration:     fixed.Clone(duration),
		Salt:         fixed.Clone(salt),
		CreatedAt:    ctx.Time,
		Checkpoint:   fixed.Clone(pool.Index),
		AppliedIndex: fixed.Clone(pool.Index),
		HistoryPos:   len(pool.History),
	})
	ctx.Emit(events.NewReserveOrderCreated(hash, account, asset, value))
	return hash, nil
}

// CancelOrder closes an order on its depositor's signature.
func (r *Reserve) CancelOrder(ctx *ledger.Context, orderHash common.Hash, sig []byte) error {
	o, ok := ctx.State.ReserveOrder(orderHash)
	if !ok {
		return events.Reject(MethodCancelOrder, orderHash, events.ReasonOrderDoesNotExist)
	}
	cancelHash := CancelHash(orderHash)
	if !crypto.Authorized(r.auth, cancelHash, sig, o.Depositor) {
		return events.Reject(MethodCancelOrder, cancelHash, events.ReasonSignerNotOrderCreator)
	}
	return r.close(ctx, MethodCancelOrder, o)
}

// ProcessOrder closes a matured order. Anyone may call it.
func (r *Reserve) ProcessOrder(ctx *ledger.Context, orderHash common.Hash) error {
	o, ok := ctx.State.ReserveOrder(orderHash)
	if !ok {
		return events.Reject(MethodProcessOrder, orderHash, events.ReasonOrderDoesNotExist)
	}
	if !o.Matured(ctx.Time) {
		return events.Reject(MethodProcessOrder, orderHash, events.ReasonOrderNotMatured)
	}
	return r.close(ctx, MethodProcessOrder, o)
}

func (r *Reserve) close(ctx *ledger.Context, method string, o *ledger.ReserveOrder) error {
	if o.Cancelled {
		return events.Reject(method, o.Hash, events.ReasonOrderAlreadyCancelled)
	}
	payout, err := Payout(o)
	if err != nil {
		return err
	}
	if err := r.escrow.Release(ctx, r.address, o.Asset, o.Account, payout); err != nil {
		return err
	}

	pool := ctx.State.Pool(o.Asset)
	pool.TotalShares = fixed.SubFloor(pool.TotalShares, o.Shares)
	ctx.State.PutPool(pool)

	o.Cancelled = true
	o.Payout = payout
	ctx.State.PutReserveOrder(o)
	ctx.Emit(events.NewReserveOrderCancelled(o.Hash, payout))
	return nil
}

// Payout is principal * appliedIndex / checkpoint.
func Payout(o *ledger.ReserveOrder) (*uint256.Int, error) {
	if fixed.IsZero(o.Checkpoint) {
		return fixed.Clone(o.Principal), nil
	}
	return fixed.MulDiv(o.Principal, o.AppliedIndex, o.Checkpoint)
}

// ==============================
// Kernel hooks
// ==============================

// Release lends value of asset from the pool to `to`.
func (r *Reserve) Release(ctx *ledger.Context, caller, asset, to common.Address, value *uint256.Int) error {
	if !access.IsHandler(ctx.State, caller) {
		return events.Reject(MethodRelease, common.BytesToHash(caller.Bytes()), events.ReasonUnauthorizedCaller)
	}
	return r.escrow.Release(ctx, r.address, asset, to, value)
}

// Lock takes totalRepaid of asset back into the pool from `from`, which is
// either a registry account or the calling handler itself, and books the
// loan's profit and loss in the current period. An account invalidated after
// its order opened can still repay.
func (r *Reserve) Lock(ctx *ledger.Context, caller, asset, from common.Address, totalRepaid, profit, loss *uint256.Int) error {
	if !access.IsHandler(ctx.State, caller) {
		return events.Reject(MethodLock, common.BytesToHash(caller.Bytes()), events.ReasonUnauthorizedCaller)
	}
	switch {
	case r.registry.Exists(ctx.State, from):
		if err := r.registry.TransferBySystem(ctx, r.address, from, asset, r.escrow.Address(), totalRepaid); err != nil {
			return err
		}
	case from == caller:
		if err := r.escrow.Deposit(ctx, r.address, asset, from, totalRepaid); err != nil {
			return err
		}
	default:
		return events.Reject(MethodLock, common.BytesToHash(from.Bytes()), events.ReasonUnauthorizedCaller)
	}
	if fixed.IsZero(profit) && fixed.IsZero(loss) {
		return nil
	}
	pool := ctx.State.Pool(asset)
	if err := book(pool, period(ctx.Time), profit, loss); err != nil {
		return err
	}
	ctx.State.PutPool(pool)
	return nil
}

func book(pool *ledger.ReservePool, p int64, profit, loss *uint256.Int) error {
	n := len(pool.Pending)
	if n == 0 || pool.Pending[n-1].Period != p {
		pool.Pending = append(pool.Pending, ledger.PeriodBook{Period: p, Profit: fixed.Zero(), Loss: fixed.Zero()})
		n++
	}
	b := &pool.Pending[n-1]
	var err error
	if b.Profit, err = fixed.Add(b.Profit, profit); err != nil {
		return err
	}
	if b.Loss, err = fixed.Add(b.Loss, loss); err != nil {
		return err
	}
	return nil
}

// ==============================
// Keeper updates
// ==============================

// UpdateReserveValues folds up to maxPeriods closed periods of asset into the
// pool index and returns how many were folded. The current period stays open.
func (r *Reserve) UpdateReserveValues(ctx *ledger.Context, caller, asset common.Address, maxPeriods int) (int, error) {
	if !access.IsKeeper(ctx.State, caller) {
		return 0, events.Reject(MethodUpdateValues, common.BytesToHash(asset.Bytes()), events.ReasonUnauthorizedCaller)
	}
	if maxPeriods <= 0 {
		return 0, events.Reject(MethodUpdateValues, common.BytesToHash(asset.Bytes()), events.ReasonInvalidMaxPeriods)
	}
	pool := ctx.State.Pool(asset)
	current := period(ctx.Time)
	folded := 0
	for folded < maxPeriods && len(pool.Pending) > 0 && pool.Pending[0].Period < current {
		if err := fold(pool, pool.Pending[0]); err != nil {
			return folded, fmt.Errorf("fold period %d: %w", pool.Pending[0].Period, err)
		}
		pool.Pending = pool.Pending[1:]
		folded++
	}
	if folded == 0 {
		return 0, nil
	}
	ctx.State.PutPool(pool)
	ctx.Emit(events.NewReserveValuesUpdated(asset, folded, pool.Index))
	return folded, nil
}

func (r *Reserve) UpdateReserveValuesBatch(ctx *ledger.Context, caller common.Address, assets []common.Address, maxPeriods int) error {
	for _, a := range assets {
		if _, err := r.UpdateReserveValues(ctx, caller, a, maxPeriods); err != nil {
			return err
		}
	}
	return nil
}

// fold moves the index so that shares * index grows by profit - loss. An empty
// pool keeps its index; a wiped-out pool bottoms out at one wei per share.
func fold(pool *ledger.ReservePool, b ledger.PeriodBook) error {
	if !pool.TotalShares.IsZero() {
		total, err := fixed.Mul(pool.TotalShares, pool.Index)
		if err != nil {
			return err
		}
		if total, err = fixed.Add(total, b.Profit); err != nil {
			return err
		}
		total = fixed.SubFloor(total, b.Loss)
		index, err := fixed.MulDiv(total, fixed.One, pool.TotalShares)
		if err != nil {
			return err
		}
		if index.IsZero() {
			index.SetOne()
		}
		pool.Index = index
	}
	pool.History = append(pool.History, ledger.IndexPoint{Period: b.Period, Index: fixed.Clone(pool.Index)})
	return nil
}

// UpdateOrderCumulativeValue applies up to maxPeriods published index points
// to an order. Anyone may call it.
func (r *Reserve) UpdateOrderCumulativeValue(ctx *ledger.Context, orderHash common.Hash, maxPeriods int) error {
	o, ok := ctx.State.ReserveOrder(orderHash)
	if !ok {
		return events.Reject(MethodUpdateOrderValues, orderHash, events.ReasonOrderDoesNotExist)
	}
	if o.Cancelled {
		return events.Reject(MethodUpdateOrderValues, orderHash, events.ReasonOrderAlreadyCancelled)
	}
	if maxPeriods <= 0 {
		return events.Reject(MethodUpdateOrderValues, orderHash, events.ReasonInvalidMaxPeriods)
	}
	pool := ctx.State.Pool(o.Asset)
	applied := 0
	for applied < maxPeriods && o.HistoryPos < len(pool.History) {
		o.AppliedIndex = fixed.Clone(pool.History[o.HistoryPos].Index)
		o.HistoryPos++
		applied++
	}
	if applied == 0 {
		return nil
	}
	ctx.State.PutReserveOrder(o)
	ctx.Emit(events.NewReserveOrderUpdated(orderHash, o.AppliedIndex))
	return nil
}
