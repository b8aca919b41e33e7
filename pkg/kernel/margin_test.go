package kernel

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
)

func (e *env) marginTerms() MarginTerms {
	return MarginTerms{
		LoanTerms:    e.loanTerms("1", "0.5"),
		TradeAsset:   tradeAsset,
		ClosingAsset: loanAsset,
		StopProfit:   fixed.MustParse("0.25"),
		StopLoss:     fixed.MustParse("0.35"),
	}
}

func (e *env) openMargin(t *testing.T) common.Hash {
	t.Helper()
	e.fund(t, collAsset, "0.5")
	e.setRate(loanAsset, tradeAsset, "2")
	e.setRate(collAsset, loanAsset, "1")
	terms := e.marginTerms()
	h, err := e.margin.CreateOrder(e.ctx, terms, connectorAddr, e.sign(t, MarginOrderHash(marginAddr, terms)))
	require.NoError(t, err)
	e.ctx.ResetEvents()
	return h
}

func (e *env) liquidate(t *testing.T, h common.Hash, rates Rates) error {
	t.Helper()
	return e.margin.LiquidateOrder(e.ctx, h, common.Address{}, rates, e.sign(t, LiquidateHash(marginAddr, h)))
}

type settlement struct {
	userProfit, valueRepaid, reserveProfit, collateralLeft string
}

func requireSettlement(t *testing.T, ev events.Event, h common.Hash, want settlement) {
	t.Helper()
	require.Equal(t, events.TypeOrderSettlement, ev.Type)
	require.Equal(t, h.Hex(), ev.Attributes["orderHash"])
	require.Equal(t, wei(want.userProfit), ev.Attributes["userProfit"], "userProfit")
	require.Equal(t, wei(want.valueRepaid), ev.Attributes["valueRepaid"], "valueRepaid")
	require.Equal(t, wei(want.reserveProfit), ev.Attributes["reserveProfit"], "reserveProfit")
	require.Equal(t, wei(want.collateralLeft), ev.Attributes["collateralLeft"], "collateralLeft")
}

func TestCreateMarginOrder(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)

	require.Equal(t, "0", e.bal(marginEscrowAddr, loanAsset))
	require.Equal(t, "0.5", e.bal(marginEscrowAddr, collAsset))
	require.Equal(t, "2", e.bal(marginEscrowAddr, tradeAsset))
	require.Equal(t, "0", e.bal(e.account, loanAsset), "margin loans never reach the account")

	o, ok := e.ctx.State.MarginOrder(h)
	require.True(t, ok)
	require.True(t, o.Open())
	require.Equal(t, "2", fixed.Format(o.TradeValue))
	require.Equal(t, connectorAddr, o.Connector)
}

func TestCreateMarginOrderInvalidSigner(t *testing.T) {
	e := newEnv(t)
	e.fund(t, collAsset, "0.5")
	e.setRate(loanAsset, tradeAsset, "2")
	terms := e.marginTerms()
	hash := MarginOrderHash(marginAddr, terms)

	// A signature over the loan leg alone does not authorize the margin order.
	_, err := e.margin.CreateOrder(e.ctx, terms, connectorAddr, e.sign(t, OrderHash(marginAddr, terms.LoanTerms)))
	d := requireDiagnostic(t, err, MethodMarginCreate, events.ReasonSignerNotOrderCreator)
	require.Equal(t, hash, d.Hash)
	require.Equal(t, "0.5", e.bal(e.account, collAsset))
}

func TestCreateMarginOrderInvalidAccount(t *testing.T) {
	e := newEnv(t)
	e.fund(t, collAsset, "0.5")
	a, _ := e.ctx.State.Account(e.account)
	a.Valid = false
	e.ctx.State.PutAccount(a)
	terms := e.marginTerms()

	_, err := e.margin.CreateOrder(e.ctx, terms, connectorAddr, e.sign(t, MarginOrderHash(marginAddr, terms)))
	requireDiagnostic(t, err, MethodMarginCreate, events.ReasonInvalidOrderAccount)
}

func TestCreateMarginOrderStopLossOutOfRange(t *testing.T) {
	e := newEnv(t)
	e.fund(t, collAsset, "0.5")
	e.setRate(loanAsset, tradeAsset, "2")
	for _, stop := range []string{"1", "1.5"} {
		terms := e.marginTerms()
		terms.StopLoss = fixed.MustParse(stop)
		hash := MarginOrderHash(marginAddr, terms)
		_, err := e.margin.CreateOrder(e.ctx, terms, connectorAddr, e.sign(t, hash))
		d := requireDiagnostic(t, err, MethodMarginCreate, events.ReasonInvalidOrderValues)
		require.Equal(t, hash, d.Hash)
		_, exists := e.ctx.State.MarginOrder(hash)
		require.False(t, exists, stop)
	}
	require.Equal(t, "0.5", e.bal(e.account, collAsset))
}

func TestCreateMarginOrderUnknownConnector(t *testing.T) {
	e := newEnv(t)
	e.fund(t, collAsset, "0.5")
	terms := e.marginTerms()
	_, err := e.margin.CreateOrder(e.ctx, terms, relayer, e.sign(t, MarginOrderHash(marginAddr, terms)))
	requireDiagnostic(t, err, MethodMarginCreate, events.ReasonInvalidExchangeConnector)
}

func TestLiquidateWithUntouchedCollateral(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.54")

	reserveGain := e.delta(t, reserveEscrowAddr, loanAsset, func() {
		require.NoError(t, e.liquidate(t, h, Rates{}))
	})
	require.Equal(t, "1.08", reserveGain)
	require.Equal(t, "0.5", e.bal(e.account, collAsset))

	evs := e.ctx.Events()
	require.Len(t, evs, 2)
	requireSettlement(t, evs[0], h, settlement{"0", "1.08", "0.08", "0.5"})
	require.Equal(t, events.TypeOrderLiquidated, evs[1].Type)

	o, _ := e.ctx.State.MarginOrder(h)
	require.True(t, o.Liquidated)
	for _, a := range []common.Address{loanAsset, collAsset, tradeAsset} {
		require.Equal(t, "0", e.bal(marginEscrowAddr, a))
	}

	err := e.liquidate(t, h, Rates{})
	requireDiagnostic(t, err, MethodMarginLiquidate, events.ReasonOrderNotOpen)
}

func TestLiquidateWrongSigner(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.54")
	sig := e.sign(t, flip(h))
	err := e.margin.LiquidateOrder(e.ctx, h, common.Address{}, Rates{}, sig)
	requireDiagnostic(t, err, MethodMarginLiquidate, events.ReasonSignerNotOrderCreator)
	o, _ := e.ctx.State.MarginOrder(h)
	require.True(t, o.Open())
}

func flip(h common.Hash) common.Hash {
	h[0] ^= 0xff
	return h
}

func TestExpiryDefaultsPosition(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.54")

	err := e.margin.ProcessTradeForExpiry(e.ctx, h, common.Address{})
	requireDiagnostic(t, err, MethodMarginExpiry, events.ReasonMKernelDueDateNotReached)

	e.ctx.Time += 2 * day
	require.NoError(t, e.margin.ProcessTradeForExpiry(e.ctx, h, connectorAddr))

	evs := e.ctx.Events()
	require.Len(t, evs, 2)
	requireSettlement(t, evs[0], h, settlement{"0", "1.08", "0.08", "0.5"})
	require.Equal(t, events.TypeOrderDefaulted, evs[1].Type)
	require.Equal(t, events.ReasonMKernelDueDatePassed, evs[1].Attributes["reason"])

	o, _ := e.ctx.State.MarginOrder(h)
	require.True(t, o.Defaulted)
	require.False(t, o.Liquidated)
}

func TestStopProfit(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	rate := fixed.MustParse("0.665")
	e.ctx.State.SetPairRate(connectorAddr, tradeAsset, loanAsset, rate)

	err := e.margin.ProcessTradeForStopProfit(e.ctx, h, connectorAddr, Rates{Trade: fixed.MustParse("0.6")})
	requireDiagnostic(t, err, MethodMarginStopProfit, events.ReasonMKernelStopProfitNotHit)

	profit := e.delta(t, e.account, loanAsset, func() {
		require.NoError(t, e.margin.ProcessTradeForStopProfit(e.ctx, h, connectorAddr, Rates{Trade: rate}))
	})
	require.Equal(t, "0.25", profit)

	evs := e.ctx.Events()
	require.Len(t, evs, 2)
	requireSettlement(t, evs[0], h, settlement{"0.25", "1.08", "0.08", "0.5"})
	require.Equal(t, events.TypeOrderLiquidated, evs[1].Type)
	require.Equal(t, events.ReasonMKernelStopProfitReached, evs[1].Attributes["reason"])

	o, _ := e.ctx.State.MarginOrder(h)
	require.True(t, o.Liquidated)
}

func TestStopLoss(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.5")
	e.setRate(collAsset, loanAsset, "1")

	err := e.margin.ProcessTradeForStopLoss(e.ctx, h, connectorAddr, Rates{Trade: fixed.MustParse("0.9")})
	requireDiagnostic(t, err, MethodMarginStopLoss, events.ReasonMKernelOrderSafe)

	rates := Rates{Coll: fixed.MustParse("1"), Trade: fixed.MustParse("0.5")}
	require.NoError(t, e.margin.ProcessTradeForStopLoss(e.ctx, h, connectorAddr, rates))

	evs := e.ctx.Events()
	require.Len(t, evs, 2)
	requireSettlement(t, evs[0], h, settlement{"0", "1.08", "0.08", "0.42"})
	require.Equal(t, events.TypeOrderDefaulted, evs[1].Type)
	require.Equal(t, events.ReasonMKernelOrderUnsafe, evs[1].Attributes["reason"])
	require.Equal(t, "0.42", e.bal(e.account, collAsset))

	o, _ := e.ctx.State.MarginOrder(h)
	require.True(t, o.Defaulted)
}

func TestLiquidateWithPartialCollateral(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.5")
	e.setRate(collAsset, loanAsset, "1")

	require.NoError(t, e.liquidate(t, h, Rates{}))
	requireSettlement(t, e.ctx.Events()[0], h, settlement{"0", "1.08", "0.08", "0.42"})
}

func TestLiquidateWithFullCollateral(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.29")
	e.setRate(collAsset, loanAsset, "1")

	require.NoError(t, e.liquidate(t, h, Rates{}))
	requireSettlement(t, e.ctx.Events()[0], h, settlement{"0", "1.08", "0.08", "0"})
	require.Equal(t, "0", e.bal(e.account, collAsset))
}

func TestReserveAbsorbsShortfall(t *testing.T) {
	e := newEnv(t)
	h := e.openMargin(t)
	e.setRate(tradeAsset, loanAsset, "0.2")
	e.setRate(collAsset, loanAsset, "1")

	reserveGain := e.delta(t, reserveEscrowAddr, loanAsset, func() {
		require.NoError(t, e.liquidate(t, h, Rates{}))
	})
	require.Equal(t, "0.9", reserveGain)
	requireSettlement(t, e.ctx.Events()[0], h, settlement{"0", "0.9", "0", "0"})

	pool := e.ctx.State.Pool(loanAsset)
	require.Len(t, pool.Pending, 1)
	require.Equal(t, "0.1", fixed.Format(pool.Pending[0].Loss))
}

func TestSameAssetCollateralSkipsConnector(t *testing.T) {
	e := newEnv(t)
	e.fund(t, loanAsset, "0.5")
	e.setRate(loanAsset, tradeAsset, "2")
	terms := e.marginTerms()
	terms.CollAsset = loanAsset
	h, err := e.margin.CreateOrder(e.ctx, terms, connectorAddr, e.sign(t, MarginOrderHash(marginAddr, terms)))
	require.NoError(t, err)
	e.ctx.ResetEvents()

	e.setRate(tradeAsset, loanAsset, "0.5")
	require.NoError(t, e.liquidate(t, h, Rates{}))
	requireSettlement(t, e.ctx.Events()[0], h, settlement{"0", "1.08", "0.08", "0.42"})
}
