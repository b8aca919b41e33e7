// Package exchange models the external exchange connector: a quote source that
// also executes swaps against liquidity held at the connector's address.
package exchange

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/access"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

var (
	ErrNoRate        = errors.New("exchange: no rate for pair")
	ErrRateOutOfBand = errors.New("exchange: supplied rate too far from quote")
)

const MethodSetPairRate = "ExchangeConnector::setPairRate"

// Connector converts between assets. A rate is asset `to` per unit of asset
// `from` at 1e18 scale.
type Connector interface {
	Address() common.Address
	GetRate(st *ledger.State, from, to common.Address) (*uint256.Int, error)
	// Convert swaps value of `from` held by caller into `to`. A zero rate
	// means "use the current quote". It returns the amount of `to` received.
	Convert(ctx *ledger.Context, caller, from, to common.Address, value, rate *uint256.Int) (*uint256.Int, error)
}

// Source resolves connector addresses named in instructions.
type Source interface {
	Lookup(st *ledger.State, addr common.Address) (Connector, bool)
}

// QuoteConnector executes swaps at stored pair rates, or at a caller-supplied
// rate within MaxDeviation of the stored one.
type QuoteConnector struct {
	address common.Address
	// MaxDeviation bounds |supplied - quote| / quote at 1e18 scale.
	// Zero disables the check.
	maxDeviation *uint256.Int
}

func NewQuoteConnector(address common.Address, maxDeviation *uint256.Int) *QuoteConnector {
	return &QuoteConnector{address: address, maxDeviation: fixed.Clone(maxDeviation)}
}

func (c *QuoteConnector) Address() common.Address { return c.address }

func (c *QuoteConnector) GetRate(st *ledger.State, from, to common.Address) (*uint256.Int, error) {
	if from == to {
		return fixed.Clone(fixed.One), nil
	}
	rate, ok := st.PairRate(c.address, from, to)
	if !ok || rate.IsZero() {
		return nil, fmt.Errorf("%w: %s -> %s at %s", ErrNoRate, from.Hex(), to.Hex(), c.address.Hex())
	}
	return rate, nil
}

// EffectiveRate resolves the rate a Convert call would use.
func (c *QuoteConnector) EffectiveRate(st *ledger.State, from, to common.Address, supplied *uint256.Int) (*uint256.Int, error) {
	if fixed.IsZero(supplied) {
		return c.GetRate(st, from, to)
	}
	if fixed.IsZero(c.maxDeviation) {
		return fixed.Clone(supplied), nil
	}
	quote, err := c.GetRate(st, from, to)
	if err != nil {
		return nil, err
	}
	var diff uint256.Int
	if supplied.Gt(quote) {
		diff.Sub(supplied, quote)
	} else {
		diff.Sub(quote, supplied)
	}
	limit, err := fixed.Mul(quote, c.maxDeviation)
	if err != nil {
		return nil, err
	}
	if diff.Gt(limit) {
		return nil, fmt.Errorf("%w: supplied %s quote %s", ErrRateOutOfBand, supplied, quote)
	}
	return fixed.Clone(supplied), nil
}

func (c *QuoteConnector) Convert(ctx *ledger.Context, caller, from, to common.Address, value, rate *uint256.Int) (*uint256.Int, error) {
	if from == to || fixed.IsZero(value) {
		return fixed.Clone(value), nil
	}
	r, err := c.EffectiveRate(ctx.State, from, to, rate)
	if err != nil {
		return nil, err
	}
	out, err := fixed.Mul(value, r)
	if err != nil {
		return nil, err
	}
	if err := ctx.State.Transfer(from, caller, c.address, value); err != nil {
		return nil, fmt.Errorf("exchange pay-in: %w", err)
	}
	if err := ctx.State.Transfer(to, c.address, caller, out); err != nil {
		return nil, fmt.Errorf("exchange liquidity: %w", err)
	}
	return out, nil
}

// Directory resolves registered connector addresses to QuoteConnectors.
type Directory struct {
	MaxDeviation *uint256.Int
}

func (d Directory) Lookup(st *ledger.State, addr common.Address) (Connector, bool) {
	if !access.IsConnector(st, addr) {
		return nil, false
	}
	return NewQuoteConnector(addr, d.MaxDeviation), true
}

// SetPairRate records a quote. Admins and keepers act as the price feed.
func SetPairRate(ctx *ledger.Context, caller, connector, from, to common.Address, rate *uint256.Int) error {
	if !access.IsKeeper(ctx.State, caller) {
		return events.Reject(MethodSetPairRate, common.BytesToHash(caller.Bytes()), events.ReasonUnauthorizedCaller)
	}
	if !access.IsConnector(ctx.State, connector) {
		return events.Reject(MethodSetPairRate, common.BytesToHash(connector.Bytes()), events.ReasonInvalidExchangeConnector)
	}
	ctx.State.SetPairRate(connector, from, to, rate)
	ctx.Emit(events.NewPairRateUpdated(connector, from, to, rate))
	return nil
}
