// Package ledger holds the in-memory settlement state: balances, orders,
// reserve pools, registry accounts and the access list. Every mutation is
// journaled so a failed instruction can be rolled back exactly.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/hyperlend/pkg/fixed"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrUnknownRecord       = errors.New("ledger: unknown record type")
)

type balanceKey struct {
	holder common.Address
	asset  common.Address
}

type rateKey struct {
	connector common.Address
	from      common.Address
	to        common.Address
}

// State is not safe for concurrent use; the application serializes access.
type State struct {
	balances      map[balanceKey]*uint256.Int
	loanOrders    map[common.Hash]*LoanOrder
	marginOrders  map[common.Hash]*MarginOrder
	reserveOrders map[common.Hash]*ReserveOrder
	pools         map[common.Address]*ReservePool
	accounts      map[common.Address]*Account
	userAccounts  map[common.Address][]common.Address
	rates         map[rateKey]*uint256.Int
	consumed      map[common.Hash]bool
	access        *Access

	journal journal
	dirty   map[Key]struct{}
}

func NewState() *State {
	return &State{
		balances:      make(map[balanceKey]*uint256.Int),
		loanOrders:    make(map[common.Hash]*LoanOrder),
		marginOrders:  make(map[common.Hash]*MarginOrder),
		reserveOrders: make(map[common.Hash]*ReserveOrder),
		pools:         make(map[common.Address]*ReservePool),
		accounts:      make(map[common.Address]*Account),
		userAccounts:  make(map[common.Address][]common.Address),
		rates:         make(map[rateKey]*uint256.Int),
		consumed:      make(map[common.Hash]bool),
		access:        NewAccess(),
		dirty:         make(map[Key]struct{}),
	}
}

// ==============================
// Balances
// ==============================

// Balance returns a copy of holder's balance of asset.
func (s *State) Balance(holder, asset common.Address) *uint256.Int {
	return fixed.Clone(s.balances[balanceKey{holder, asset}])
}

func (s *State) setBalance(holder, asset common.Address, v *uint256.Int) {
	k := balanceKey{holder, asset}
	prev, existed := s.balances[k]
	s.journal.append(func() {
		if existed {
			s.balances[k] = prev
		} else {
			delete(s.balances, k)
		}
	})
	s.balances[k] = fixed.Clone(v)
	s.markDirty(KindBalance, balanceID(holder, asset))
}

// Credit adds value to holder's balance.
func (s *State) Credit(holder, asset common.Address, value *uint256.Int) error {
	if fixed.IsZero(value) {
		return nil
	}
	next, err := fixed.Add(s.Balance(holder, asset), value)
	if err != nil {
		return fmt.Errorf("credit %s: %w", holder.Hex(), err)
	}
	s.setBalance(holder, asset, next)
	return nil
}

// Debit removes value from holder's balance.
func (s *State) Debit(holder, asset common.Address, value *uint256.Int) error {
	if fixed.IsZero(value) {
		return nil
	}
	have := s.Balance(holder, asset)
	if have.Lt(value) {
		return fmt.Errorf("%w: %s holds %s of %s, need %s",
			ErrInsufficientBalance, holder.Hex(), have, asset.Hex(), value)
	}
	s.setBalance(holder, asset, new(uint256.Int).Sub(have, value))
	return nil
}

// Transfer moves value of asset from one holder to another.
func (s *State) Transfer(asset, from, to common.Address, value *uint256.Int) error {
	if err := s.Debit(from, asset, value); err != nil {
		return err
	}
	return s.Credit(to, asset, value)
}

// Holdings lists every non-zero balance of holder sorted by asset.
func (s *State) Holdings(holder common.Address) []BalanceRecord {
	var out []BalanceRecord
	for k, v := range s.balances {
		if k.holder == holder && !v.IsZero() {
			out = append(out, BalanceRecord{Holder: holder, Asset: k.asset, Value: fixed.Clone(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset.Cmp(out[j].Asset) < 0 })
	return out
}

// ==============================
// Orders
// ==============================

func (s *State) LoanOrder(h common.Hash) (*LoanOrder, bool) {
	o, ok := s.loanOrders[h]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *State) PutLoanOrder(o *LoanOrder) {
	h := o.Hash
	prev, existed := s.loanOrders[h]
	s.journal.append(func() {
		if existed {
			s.loanOrders[h] = prev
		} else {
			delete(s.loanOrders, h)
		}
	})
	s.loanOrders[h] = o.Clone()
	s.markDirty(KindLoanOrder, h.Hex())
}

func (s *State) MarginOrder(h common.Hash) (*MarginOrder, bool) {
	o, ok := s.marginOrders[h]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *State) PutMarginOrder(o *MarginOrder) {
	h := o.Hash
	prev, existed := s.marginOrders[h]
	s.journal.append(func() {
		if existed {
			s.marginOrders[h] = prev
		} else {
			delete(s.marginOrders, h)
		}
	})
	s.marginOrders[h] = o.Clone()
	s.markDirty(KindMarginOrder, h.Hex())
}

func (s *State) ReserveOrder(h common.Hash) (*ReserveOrder, bool) {
	o, ok := s.reserveOrders[h]
	if !ok {
		return nil, false
	}
	return o.Clone(), true
}

func (s *State) PutReserveOrder(o *ReserveOrder) {
	h := o.Hash
	prev, existed := s.reserveOrders[h]
	s.journal.append(func() {
		if existed {
			s.reserveOrders[h] = prev
		} else {
			delete(s.reserveOrders, h)
		}
	})
	s.reserveOrders[h] = o.Clone()
	s.markDirty(KindReserveOrder, h.Hex())
}

// LoanOrdersOf returns the loan orders of an account sorted by creation time.
func (s *State) LoanOrdersOf(account common.Address) []*LoanOrder {
	var out []*LoanOrder
	for _, o := range s.loanOrders {
		if o.Account == account {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Hash.Cmp(out[j].Hash) < 0
	})
	return out
}

// MarginOrdersOf returns the margin orders of an account sorted by creation time.
func (s *State) MarginOrdersOf(account common.Address) []*MarginOrder {
	var out []*MarginOrder
	for _, o := range s.marginOrders {
		if o.Account == account {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Hash.Cmp(out[j].Hash) < 0
	})
	return out
}

// ==============================
// Reserve pools
// ==============================

// Pool returns the pool for asset, or a fresh pool at index 1.0.
func (s *State) Pool(asset common.Address) *ReservePool {
	if p, ok := s.pools[asset]; ok {
		return p.Clone()
	}
	return NewReservePool(asset)
}

func (s *State) HasPool(asset common.Address) bool {
	_, ok := s.pools[asset]
	return ok
}

func (s *State) PutPool(p *ReservePool) {
	asset := p.Asset
	prev, existed := s.pools[asset]
	s.journal.append(func() {
		if existed {
			s.pools[asset] = prev
		} else {
			delete(s.pools, asset)
		}
	})
	s.pools[asset] = p.Clone()
	s.markDirty(KindPool, asset.Hex())
}

// ==============================
// Registry accounts
// ==============================

func (s *State) Account(addr common.Address) (*Account, bool) {
	a, ok := s.accounts[addr]
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

func (s *State) PutAccount(a *Account) {
	addr := a.Address
	prev, existed := s.accounts[addr]
	s.journal.append(func() {
		if existed {
			s.accounts[addr] = prev
		} else {
			delete(s.accounts, addr)
		}
	})
	s.accounts[addr] = a.Clone()
	s.markDirty(KindAccount, addr.Hex())
}

// AccountCount is used to derive deterministic account addresses.
func (s *State) AccountCount() int { return len(s.accounts) }

func (s *State) AccountsOf(user common.Address) []common.Address {
	return append([]common.Address(nil), s.userAccounts[user]...)
}

func (s *State) AppendUserAccount(user, account common.Address) {
	prev, existed := s.userAccounts[user]
	s.journal.append(func() {
		if existed {
			s.userAccounts[user] = prev
		} else {
			delete(s.userAccounts, user)
		}
	})
	next := make([]common.Address, 0, len(prev)+1)
	next = append(next, prev...)
	s.userAccounts[user] = append(next, account)
	s.markDirty(KindUserAccounts, user.Hex())
}

// ==============================
// Exchange rates
// ==============================

func (s *State) PairRate(connector, from, to common.Address) (*uint256.Int, bool) {
	r, ok := s.rates[rateKey{connector, from, to}]
	if !ok {
		return nil, false
	}
	return fixed.Clone(r), true
}

func (s *State) SetPairRate(connector, from, to common.Address, rate *uint256.Int) {
	k := rateKey{connector, from, to}
	prev, existed := s.rates[k]
	s.journal.append(func() {
		if existed {
			s.rates[k] = prev
		} else {
			delete(s.rates, k)
		}
	})
	s.rates[k] = fixed.Clone(rate)
	s.markDirty(KindRate, rateID(connector, from, to))
}

// ==============================
// Consumed signatures
// ==============================

// Consumed reports whether a one-shot signed instruction hash was already used.
func (s *State) Consumed(h common.Hash) bool { return s.consumed[h] }

func (s *State) Consume(h common.Hash) {
	if s.consumed[h] {
		return
	}
	s.journal.append(func() { delete(s.consumed, h) })
	s.consumed[h] = true
	s.markDirty(KindConsumed, h.Hex())
}

// ==============================
// Access list
// ==============================

func (s *State) Access() *Access { return s.access.Clone() }

func (s *State) PutAccess(a *Access) {
	prev := s.access
	s.journal.append(func() { s.access = prev })
	s.access = a.Clone()
	s.markDirty(KindAccess, accessID)
}
