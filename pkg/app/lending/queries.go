package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/reserve"
)

// Read-only views for the API. Every getter returns copies.

type ChainStatus struct {
	Height      int64       `json:"height"`
	Timestamp   int64       `json:"timestamp"`
	AppHash     common.Hash `json:"appHash"`
	MempoolSize int         `json:"mempoolSize"`
}

func (a *App) Status() ChainStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ChainStatus{
		Height:      a.height,
		Timestamp:   a.timestamp,
		AppHash:     a.appHash,
		MempoolSize: a.mempool.Len(),
	}
}

func (a *App) GetMempoolSize() int { return a.mempool.Len() }

func (a *App) Balance(holder, asset common.Address) *uint256.Int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Balance(holder, asset)
}

func (a *App) Holdings(holder common.Address) []ledger.BalanceRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Holdings(holder)
}

func (a *App) LoanOrder(h common.Hash) (*ledger.LoanOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.LoanOrder(h)
}

func (a *App) MarginOrder(h common.Hash) (*ledger.MarginOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.MarginOrder(h)
}

// ReserveOrderView adds the payout the order would receive if closed now.
type ReserveOrderView struct {
	*ledger.ReserveOrder
	Payout *uint256.Int `json:"currentPayout"`
}

func (a *App) ReserveOrder(h common.Hash) (*ReserveOrderView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.state.ReserveOrder(h)
	if !ok {
		return nil, false
	}
	v := &ReserveOrderView{ReserveOrder: o}
	if !o.Cancelled {
		// overflow here means the order is corrupt; show no payout
		v.Payout, _ = reserve.Payout(o)
	}
	return v, true
}

func (a *App) Pool(asset common.Address) (*ledger.ReservePool, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.HasPool(asset) {
		return nil, false
	}
	return a.state.Pool(asset), true
}

// AccountView is a registry account with its balances and open orders.
type AccountView struct {
	*ledger.Account
	Balances     []ledger.BalanceRecord `json:"balances"`
	LoanOrders   []*ledger.LoanOrder    `json:"loanOrders"`
	MarginOrders []*ledger.MarginOrder  `json:"marginOrders"`
}

func (a *App) Account(addr common.Address) (*AccountView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.state.Account(addr)
	if !ok {
		return nil, false
	}
	return &AccountView{
		Account:      acc,
		Balances:     a.state.Holdings(addr),
		LoanOrders:   a.state.LoanOrdersOf(addr),
		MarginOrders: a.state.MarginOrdersOf(addr),
	}, true
}

func (a *App) AccountsOf(user common.Address) []common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.AccountsOf(user)
}

func (a *App) PairRate(connector, from, to common.Address) (*uint256.Int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.PairRate(connector, from, to)
}
