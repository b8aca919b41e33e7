package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/fixed"
)

// LoanOrder is a single-asset collateralized loan. Its hash commits to every
// field a user signed and never changes.
type LoanOrder struct {
	Hash      common.Hash    `json:"hash"`
	Kernel    common.Address `json:"kernel"`
	Creator   common.Address `json:"creator"`
	Account   common.Address `json:"account"`
	LoanAsset common.Address `json:"loanAsset"`
	CollAsset common.Address `json:"collAsset"`
	LoanValue *uint256.Int   `json:"loanValue"`
	CollValue *uint256.Int   `json:"collValue"`
	Premium   *uint256.Int   `json:"premium"` // 1e18 = 100%
	Duration  *uint256.Int   `json:"duration"`
	Salt      *uint256.Int   `json:"salt"`
	Fee       *uint256.Int   `json:"fee"`
	CreatedAt int64          `json:"createdAt"`
	Repaid    bool           `json:"repaid"`
	Defaulted bool           `json:"defaulted"`
}

func (o *LoanOrder) Open() bool { return !o.Repaid && !o.Defaulted }

// Owed returns loanValue + loanValue*premium/1e18.
func (o *LoanOrder) Owed() (*uint256.Int, error) {
	premium, err := o.PremiumValue()
	if err != nil {
		return nil, err
	}
	return fixed.Add(o.LoanValue, premium)
}

func (o *LoanOrder) PremiumValue() (*uint256.Int, error) {
	return fixed.Mul(o.LoanValue, o.Premium)
}

// Expired reports whether now is at or past createdAt + duration.
func (o *LoanOrder) Expired(now int64) bool {
	if !o.Duration.IsUint64() || o.Duration.Uint64() > uint64(1<<62) {
		return false
	}
	return now >= o.CreatedAt+int64(o.Duration.Uint64())
}

func (o *LoanOrder) Clone() *LoanOrder {
	cp := *o
	cp.LoanValue = fixed.Clone(o.LoanValue)
	cp.CollValue = fixed.Clone(o.CollValue)
	cp.Premium = fixed.Clone(o.Premium)
	cp.Duration = fixed.Clone(o.Duration)
	cp.Salt = fixed.Clone(o.Salt)
	cp.Fee = fixed.Clone(o.Fee)
	return &cp
}

// MarginOrder is a loan whose proceeds were converted into a trade asset and
// held by the margin kernel until the position is closed.
type MarginOrder struct {
	LoanOrder
	TradeAsset   common.Address `json:"tradeAsset"`
	ClosingAsset common.Address `json:"closingAsset"`
	StopProfit   *uint256.Int   `json:"stopProfit"`
	StopLoss     *uint256.Int   `json:"stopLoss"`
	TradeValue   *uint256.Int   `json:"tradeValue"`
	Connector    common.Address `json:"connector"`
	Liquidated   bool           `json:"liquidated"`
}

func (o *MarginOrder) Open() bool { return !o.Liquidated && !o.Defaulted }

func (o *MarginOrder) Clone() *MarginOrder {
	cp := *o
	cp.LoanOrder = *o.LoanOrder.Clone()
	cp.StopProfit = fixed.Clone(o.StopProfit)
	cp.StopLoss = fixed.Clone(o.StopLoss)
	cp.TradeValue = fixed.Clone(o.TradeValue)
	return &cp
}

// ReserveOrder is a liquidity deposit into the reserve pool of one asset.
// Payout on close is Principal * AppliedIndex / Checkpoint.
type ReserveOrder struct {
	Hash         common.Hash    `json:"hash"`
	Depositor    common.Address `json:"depositor"`
	Account      common.Address `json:"account"`
	Asset        common.Address `json:"asset"`
	Principal    *uint256.Int   `json:"principal"`
	Shares       *uint256.Int   `json:"shares"`
	Duration     *uint256.Int   `json:"duration"`
	Salt         *uint256.Int   `json:"salt"`
	CreatedAt    int64          `json:"createdAt"`
	Checkpoint   *uint256.Int   `json:"checkpoint"`
	AppliedIndex *uint256.Int   `json:"appliedIndex"`
	HistoryPos   int            `json:"historyPos"` // next unapplied entry of the pool history
	Cancelled    bool           `json:"cancelled"`
	Payout       *uint256.Int   `json:"payout,omitempty"`
}

func (o *ReserveOrder) Matured(now int64) bool {
	if !o.Duration.IsUint64() || o.Duration.Uint64() > uint64(1<<62) {
		return false
	}
	return now >= o.CreatedAt+int64(o.Duration.Uint64())
}

func (o *ReserveOrder) Clone() *ReserveOrder {
	cp := *o
	cp.Principal = fixed.Clone(o.Principal)
	cp.Shares = fixed.Clone(o.Shares)
	cp.Duration = fixed.Clone(o.Duration)
	cp.Salt = fixed.Clone(o.Salt)
	cp.Checkpoint = fixed.Clone(o.Checkpoint)
	cp.AppliedIndex = fixed.Clone(o.AppliedIndex)
	if o.Payout != nil {
		cp.Payout = fixed.Clone(o.Payout)
	}
	return &cp
}

// PeriodBook accumulates profit and loss booked by lock calls during one
// settlement period (a UTC day).
type PeriodBook struct {
	Period int64        `json:"period"`
	Profit *uint256.Int `json:"profit"`
	Loss   *uint256.Int `json:"loss"`
}

// IndexPoint records the pool index after a period was folded in.
type IndexPoint struct {
	Period int64        `json:"period"`
	Index  *uint256.Int `json:"index"`
}

// ReservePool is the per-asset reserve accounting. Index is the value of one
// share at 1e18 scale and only moves when a keeper folds closed periods.
type ReservePool struct {
	Asset       common.Address `json:"asset"`
	Index       *uint256.Int   `json:"index"`
	TotalShares *uint256.Int   `json:"totalShares"`
	Pending     []PeriodBook   `json:"pending"` // sorted by period
	History     []IndexPoint   `json:"history"`
}

// NewReservePool starts a pool at index 1.0 with no shares.
func NewReservePool(asset common.Address) *ReservePool {
	return &ReservePool{
		Asset:       asset,
		Index:       fixed.Clone(fixed.One),
		TotalShares: fixed.Zero(),
	}
}

func (p *ReservePool) Clone() *ReservePool {
	cp := *p
	cp.Index = fixed.Clone(p.Index)
	cp.TotalShares = fixed.Clone(p.TotalShares)
	cp.Pending = make([]PeriodBook, len(p.Pending))
	for i, b := range p.Pending {
		cp.Pending[i] = PeriodBook{Period: b.Period, Profit: fixed.Clone(b.Profit), Loss: fixed.Clone(b.Loss)}
	}
	cp.History = make([]IndexPoint, len(p.History))
	for i, h := range p.History {
		cp.History[i] = IndexPoint{Period: h.Period, Index: fixed.Clone(h.Index)}
	}
	return &cp
}

// Account is a registry-managed wallet whose funds are spendable only by its
// users' signatures or by authorized handlers.
type Account struct {
	Address        common.Address   `json:"address"`
	Users          []common.Address `json:"users"`
	Implementation common.Address   `json:"implementation"`
	Valid          bool             `json:"valid"`
	CreatedAt      int64            `json:"createdAt"`
}

func (a *Account) IsUser(user common.Address) bool {
	for _, u := range a.Users {
		if u == user {
			return true
		}
	}
	return false
}

func (a *Account) Clone() *Account {
	cp := *a
	cp.Users = append([]common.Address(nil), a.Users...)
	return &cp
}

// Access is the engine-wide permission list.
type Access struct {
	Admins               map[common.Address]bool `json:"admins"`
	Handlers             map[common.Address]bool `json:"handlers"`
	Keepers              map[common.Address]bool `json:"keepers"`
	Connectors           map[common.Address]bool `json:"connectors"`
	AdminControlDisabled bool                    `json:"adminControlDisabled"`
}

func NewAccess() *Access {
	return &Access{
		Admins:     make(map[common.Address]bool),
		Handlers:   make(map[common.Address]bool),
		Keepers:    make(map[common.Address]bool),
		Connectors: make(map[common.Address]bool),
	}
}

func (a *Access) Clone() *Access {
	cp := NewAccess()
	for k, v := range a.Admins {
		cp.Admins[k] = v
	}
	for k, v := range a.Handlers {
		cp.Handlers[k] = v
	}
	for k, v := range a.Keepers {
		cp.Keepers[k] = v
	}
	for k, v := range a.Connectors {
		cp.Connectors[k] = v
	}
	cp.AdminControlDisabled = a.AdminControlDisabled
	return cp
}

// Records persisted alongside the entities above.

type BalanceRecord struct {
	Holder common.Address `json:"holder"`
	Asset  common.Address `json:"asset"`
	Value  *uint256.Int   `json:"value"`
}

type PairRate struct {
	Connector common.Address `json:"connector"`
	From      common.Address `json:"from"`
	To        common.Address `json:"to"`
	Rate      *uint256.Int   `json:"rate"`
}

type UserAccounts struct {
	User     common.Address   `json:"user"`
	Accounts []common.Address `json:"accounts"`
}

type ConsumedHash struct {
	Hash common.Hash `json:"hash"`
}
