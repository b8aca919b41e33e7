package kernel

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/exchange"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

const (
	MethodMarginCreate     = "MKernel::createOrder"
	MethodMarginLiquidate  = "MKernel::liquidateOrder"
	MethodMarginExpiry     = "MKernel::processTradeForExpiry"
	MethodMarginStopProfit = "MKernel::processTradeForStopProfit"
	MethodMarginStopLoss   = "MKernel::processTradeForStopLoss"
)

// Rates are caller-supplied conversion rates into the loan asset. Zero means
// "use the connector quote".
type Rates struct {
	Coll  *uint256.Int `json:"coll"`
	Trade *uint256.Int `json:"trade"`
}

// MarginKernel opens leveraged positions: the loan never reaches the user, it
// is converted into the trade asset and held in the kernel escrow until the
// position is closed.
type MarginKernel struct {
	base
}

func NewMargin(address common.Address, deps Deps) *MarginKernel {
	return &MarginKernel{base: base{address: address, Deps: deps}}
}

func (k *MarginKernel) OrderHash(t MarginTerms) common.Hash { return MarginOrderHash(k.address, t) }

func (k *MarginKernel) CreateOrder(ctx *ledger.Context, t MarginTerms, connector common.Address, sig []byte) (common.Hash, error) {
	hash := MarginOrderHash(k.address, t)
	if !crypto.Authorized(k.Auth, hash, sig, t.Creator) {
		return hash, events.Reject(MethodMarginCreate, hash, events.ReasonSignerNotOrderCreator)
	}
	_, exists := ctx.State.MarginOrder(hash)
	if err := k.admit(ctx, MethodMarginCreate, hash, t.LoanTerms, exists); err != nil {
		return hash, err
	}
	if t.TradeAsset == (common.Address{}) || t.TradeAsset == t.LoanAsset ||
		(t.StopLoss != nil && !t.StopLoss.Lt(fixed.One)) {
		return hash, events.Reject(MethodMarginCreate, hash, events.ReasonInvalidOrderValues)
	}
	conn, err := k.lookupConnector(ctx, MethodMarginCreate, hash, connector)
	if err != nil {
		return hash, err
	}

	if err := k.pullCollateral(ctx, t.LoanTerms); err != nil {
		return hash, err
	}
	if err := k.Reserve.Release(ctx, k.address, t.LoanAsset, k.address, t.LoanValue); err != nil {
		return hash, err
	}
	traded, err := conn.Convert(ctx, k.address, t.LoanAsset, t.TradeAsset, t.LoanValue, nil)
	if err != nil {
		return hash, convertErr(MethodMarginCreate, hash, err)
	}
	if err := k.Escrow.Deposit(ctx, k.address, t.TradeAsset, k.address, traded); err != nil {
		return hash, err
	}
	if err := k.chargeFee(ctx, t.LoanTerms); err != nil {
		return hash, err
	}

	closing := t.ClosingAsset
	if closing == (common.Address{}) {
		closing = t.LoanAsset
	}
	ctx.State.PutMarginOrder(&ledger.MarginOrder{
		LoanOrder:    *newLoanOrder(hash, k.address, t.LoanTerms, ctx.Time),
		TradeAsset:   t.TradeAsset,
		ClosingAsset: closing,
		StopProfit:   fixed.Clone(t.StopProfit),
		StopLoss:     fixed.Clone(t.StopLoss),
		TradeValue:   traded,
		Connector:    conn.Address(),
	})
	ctx.Emit(events.NewOrderCreated(k.address, hash, t.Account))
	return hash, nil
}

// LiquidateOrder closes a position on its creator's request.
func (k *MarginKernel) LiquidateOrder(ctx *ledger.Context, orderHash common.Hash, connector common.Address, rates Rates, sig []byte) error {
	o, conn, err := k.open(ctx, MethodMarginLiquidate, orderHash, connector)
	if err != nil {
		return err
	}
	if !crypto.Authorized(k.Auth, LiquidateHash(k.address, orderHash), sig, o.Creator) {
		return events.Reject(MethodMarginLiquidate, LiquidateHash(k.address, orderHash), events.ReasonSignerNotOrderCreator)
	}
	cr, tr, err := k.rates(ctx, MethodMarginLiquidate, o, conn, rates)
	if err != nil {
		return err
	}
	return k.close(ctx, MethodMarginLiquidate, o, conn, cr, tr, true, events.ReasonMKernelUserLiquidation)
}

// ProcessTradeForExpiry closes an expired position at connector quotes.
// Anyone may call it.
func (k *MarginKernel) ProcessTradeForExpiry(ctx *ledger.Context, orderHash common.Hash, connector common.Address) error {
	o, conn, err := k.open(ctx, MethodMarginExpiry, orderHash, connector)
	if err != nil {
		return err
	}
	if !o.Expired(ctx.Time) {
		return events.Reject(MethodMarginExpiry, orderHash, events.ReasonMKernelDueDateNotReached)
	}
	cr, tr, err := k.rates(ctx, MethodMarginExpiry, o, conn, Rates{})
	if err != nil {
		return err
	}
	return k.close(ctx, MethodMarginExpiry, o, conn, cr, tr, false, events.ReasonMKernelDueDatePassed)
}

// ProcessTradeForStopProfit closes a position whose trade holdings cover the
// debt plus the stop-profit share of the loan.
func (k *MarginKernel) ProcessTradeForStopProfit(ctx *ledger.Context, orderHash common.Hash, connector common.Address, rates Rates) error {
	o, conn, err := k.open(ctx, MethodMarginStopProfit, orderHash, connector)
	if err != nil {
		return err
	}
	cr, tr, err := k.rates(ctx, MethodMarginStopProfit, o, conn, rates)
	if err != nil {
		return err
	}
	if fixed.IsZero(o.StopProfit) {
		return events.Reject(MethodMarginStopProfit, orderHash, events.ReasonMKernelStopProfitNotHit)
	}
	tradeInLoan, err := fixed.Mul(o.TradeValue, tr)
	if err != nil {
		return err
	}
	owed, err := o.Owed()
	if err != nil {
		return err
	}
	target, err := fixed.Mul(o.LoanValue, o.StopProfit)
	if err != nil {
		return err
	}
	if target, err = fixed.Add(owed, target); err != nil {
		return err
	}
	if tradeInLoan.Lt(target) {
		return events.Reject(MethodMarginStopProfit, orderHash, events.ReasonMKernelStopProfitNotHit)
	}
	return k.close(ctx, MethodMarginStopProfit, o, conn, cr, tr, true, events.ReasonMKernelStopProfitReached)
}

// ProcessTradeForStopLoss closes a position whose trade holdings and
// collateral, discounted by the stop-loss fraction, no longer cover the debt.
func (k *MarginKernel) ProcessTradeForStopLoss(ctx *ledger.Context, orderHash common.Hash, connector common.Address, rates Rates) error {
	o, conn, err := k.open(ctx, MethodMarginStopLoss, orderHash, connector)
	if err != nil {
		return err
	}
	cr, tr, err := k.rates(ctx, MethodMarginStopLoss, o, conn, rates)
	if err != nil {
		return err
	}
	tradeInLoan, err := fixed.Mul(o.TradeValue, tr)
	if err != nil {
		return err
	}
	collInLoan, err := fixed.Mul(o.CollValue, cr)
	if err != nil {
		return err
	}
	total, err := fixed.Add(tradeInLoan, collInLoan)
	if err != nil {
		return err
	}
	haircut, err := fixed.Mul(total, fixed.SubFloor(fixed.One, o.StopLoss))
	if err != nil {
		return err
	}
	owed, err := o.Owed()
	if err != nil {
		return err
	}
	if !haircut.Lt(owed) {
		return events.Reject(MethodMarginStopLoss, orderHash, events.ReasonMKernelOrderSafe)
	}
	return k.close(ctx, MethodMarginStopLoss, o, conn, cr, tr, false, events.ReasonMKernelOrderUnsafe)
}

// open loads an open order and the connector to settle it through. A zero
// connector address means the one the position was opened with.
func (k *MarginKernel) open(ctx *ledger.Context, method string, orderHash common.Hash, connector common.Address) (*ledger.MarginOrder, exchange.Connector, error) {
	o, ok := ctx.State.MarginOrder(orderHash)
	if !ok {
		return nil, nil, events.Reject(method, orderHash, events.ReasonOrderDoesNotExist)
	}
	if !o.Open() {
		return nil, nil, events.Reject(method, orderHash, events.ReasonOrderNotOpen)
	}
	if connector == (common.Address{}) {
		connector = o.Connector
	}
	conn, err := k.lookupConnector(ctx, method, orderHash, connector)
	if err != nil {
		return nil, nil, err
	}
	return o, conn, nil
}

func (k *MarginKernel) rates(ctx *ledger.Context, method string, o *ledger.MarginOrder, conn exchange.Connector, in Rates) (coll, trade *uint256.Int, err error) {
	if trade, err = resolveRate(ctx, method, o.Hash, conn, o.TradeAsset, o.LoanAsset, in.Trade); err != nil {
		return nil, nil, err
	}
	if coll, err = resolveRate(ctx, method, o.Hash, conn, o.CollAsset, o.LoanAsset, in.Coll); err != nil {
		return nil, nil, err
	}
	return coll, trade, nil
}

// close settles the position, marks it and emits the settlement followed by
// LogOrderLiquidated or LogOrderDefaulted.
func (k *MarginKernel) close(ctx *ledger.Context, method string, o *ledger.MarginOrder, conn exchange.Connector, collRate, tradeRate *uint256.Int, liquidated bool, reason string) error {
	s, err := k.settle(ctx, method, o, conn, collRate, tradeRate)
	if err != nil {
		return err
	}
	if liquidated {
		o.Liquidated = true
	} else {
		o.Defaulted = true
	}
	ctx.State.PutMarginOrder(o)
	ctx.Emit(events.NewOrderSettlement(o.Hash, s))
	if liquidated {
		ctx.Emit(events.NewOrderLiquidated(o.Hash, reason))
	} else {
		ctx.Emit(events.NewOrderDefaulted(o.Hash, reason))
	}
	return nil
}

// settle unwinds the trade and repays the reserve. Trade proceeds go first;
// collateral is sold only for the remaining shortfall, and whatever the
// collateral cannot cover is booked as reserve loss.
func (k *MarginKernel) settle(ctx *ledger.Context, method string, o *ledger.MarginOrder, conn exchange.Connector, collRate, tradeRate *uint256.Int) (events.Settlement, error) {
	var s events.Settlement

	if err := k.Escrow.Release(ctx, k.address, o.TradeAsset, k.address, o.TradeValue); err != nil {
		return s, err
	}
	proceeds, err := conn.Convert(ctx, k.address, o.TradeAsset, o.LoanAsset, o.TradeValue, tradeRate)
	if err != nil {
		return s, convertErr(method, o.Hash, err)
	}
	owed, err := o.Owed()
	if err != nil {
		return s, err
	}

	if !proceeds.Lt(owed) {
		premium, err := o.PremiumValue()
		if err != nil {
			return s, err
		}
		if err := k.Reserve.Lock(ctx, k.address, o.LoanAsset, k.address, owed, premium, nil); err != nil {
			return s, err
		}
		excess := new(uint256.Int).Sub(proceeds, owed)
		profit, err := k.payProfit(ctx, o, conn, excess)
		if err != nil {
			return s, convertErr(method, o.Hash, err)
		}
		if err := k.Escrow.Release(ctx, k.address, o.CollAsset, o.Account, o.CollValue); err != nil {
			return s, err
		}
		s.UserProfit = profit
		s.ValueRepaid = owed
		s.ReserveProfit = premium
		s.CollateralLeft = fixed.Clone(o.CollValue)
		return s, nil
	}

	shortfall := new(uint256.Int).Sub(owed, proceeds)
	needed, err := fixed.DivUp(shortfall, collRate)
	if err != nil {
		return s, err
	}
	sell := fixed.Min(needed, o.CollValue)
	if err := k.Escrow.Release(ctx, k.address, o.CollAsset, k.address, sell); err != nil {
		return s, err
	}
	got, err := conn.Convert(ctx, k.address, o.CollAsset, o.LoanAsset, sell, collRate)
	if err != nil {
		return s, convertErr(method, o.Hash, err)
	}
	repaid, err := fixed.Add(proceeds, got)
	if err != nil {
		return s, err
	}
	profit := fixed.SubFloor(repaid, o.LoanValue)
	loss := fixed.SubFloor(o.LoanValue, repaid)
	if err := k.Reserve.Lock(ctx, k.address, o.LoanAsset, k.address, repaid, profit, loss); err != nil {
		return s, err
	}
	left := new(uint256.Int).Sub(o.CollValue, sell)
	if err := k.Escrow.Release(ctx, k.address, o.CollAsset, o.Account, left); err != nil {
		return s, err
	}
	s.UserProfit = fixed.Zero()
	s.ValueRepaid = repaid
	s.ReserveProfit = profit
	s.CollateralLeft = left
	return s, nil
}

// payProfit sends the trade surplus to the account in the closing asset and
// returns the amount paid.
func (k *MarginKernel) payProfit(ctx *ledger.Context, o *ledger.MarginOrder, conn exchange.Connector, excess *uint256.Int) (*uint256.Int, error) {
	if excess.IsZero() {
		return fixed.Zero(), nil
	}
	paid := excess
	if o.ClosingAsset != o.LoanAsset {
		var err error
		if paid, err = conn.Convert(ctx, k.address, o.LoanAsset, o.ClosingAsset, excess, nil); err != nil {
			return nil, err
		}
	}
	if err := ctx.State.Transfer(o.ClosingAsset, k.address, o.Account, paid); err != nil {
		return nil, err
	}
	return paid, nil
}
