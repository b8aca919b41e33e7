package ledger

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/fixed"
)

// Kind names a family of persisted records. Storage uses it as key prefix.
type Kind string

const (
	KindBalance      Kind = "bal"
	KindLoanOrder    Kind = "loan"
	KindMarginOrder  Kind = "margin"
	KindReserveOrder Kind = "rsv"
	KindPool         Kind = "pool"
	KindAccount      Kind = "acct"
	KindUserAccounts Kind = "uacc"
	KindRate         Kind = "rate"
	KindConsumed     Kind = "used"
	KindAccess       Kind = "access"
)

const accessID = "list"

// Key identifies one persisted record.
type Key struct {
	Kind Kind
	ID   string
}

// Change is the current value of a record modified since the last drain.
type Change struct {
	Key   Key
	Value any
}

func balanceID(holder, asset common.Address) string {
	return holder.Hex() + ":" + asset.Hex()
}

func rateID(connector, from, to common.Address) string {
	return connector.Hex() + ":" + from.Hex() + ":" + to.Hex()
}

func (s *State) markDirty(kind Kind, id string) {
	s.dirty[Key{Kind: kind, ID: id}] = struct{}{}
}

// DrainChanges returns the records modified since the previous call, in a
// deterministic order, and clears the dirty set. Records created and then
// reverted are skipped.
func (s *State) DrainChanges() []Change {
	keys := make([]Key, 0, len(s.dirty))
	for k := range s.dirty {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Kind != keys[j].Kind {
			return keys[i].Kind < keys[j].Kind
		}
		return keys[i].ID < keys[j].ID
	})

	out := make([]Change, 0, len(keys))
	for _, k := range keys {
		if v, ok := s.lookup(k); ok {
			out = append(out, Change{Key: k, Value: v})
		}
	}
	s.dirty = make(map[Key]struct{})
	return out
}

// lookup returns the persisted form of the record behind k.
func (s *State) lookup(k Key) (any, bool) {
	switch k.Kind {
	case KindBalance:
		holder, asset, ok := strings.Cut(k.ID, ":")
		if !ok {
			return nil, false
		}
		bk := balanceKey{common.HexToAddress(holder), common.HexToAddress(asset)}
		v, ok := s.balances[bk]
		if !ok {
			return nil, false
		}
		return &BalanceRecord{Holder: bk.holder, Asset: bk.asset, Value: fixed.Clone(v)}, true
	case KindLoanOrder:
		return s.LoanOrder(common.HexToHash(k.ID))
	case KindMarginOrder:
		return s.MarginOrder(common.HexToHash(k.ID))
	case KindReserveOrder:
		return s.ReserveOrder(common.HexToHash(k.ID))
	case KindPool:
		p, ok := s.pools[common.HexToAddress(k.ID)]
		if !ok {
			return nil, false
		}
		return p.Clone(), true
	case KindAccount:
		return s.Account(common.HexToAddress(k.ID))
	case KindUserAccounts:
		user := common.HexToAddress(k.ID)
		accs, ok := s.userAccounts[user]
		if !ok {
			return nil, false
		}
		return &UserAccounts{User: user, Accounts: append([]common.Address(nil), accs...)}, true
	case KindRate:
		parts := strings.Split(k.ID, ":")
		if len(parts) != 3 {
			return nil, false
		}
		conn, from, to := common.HexToAddress(parts[0]), common.HexToAddress(parts[1]), common.HexToAddress(parts[2])
		r, ok := s.PairRate(conn, from, to)
		if !ok {
			return nil, false
		}
		return &PairRate{Connector: conn, From: from, To: to, Rate: r}, true
	case KindConsumed:
		h := common.HexToHash(k.ID)
		if !s.consumed[h] {
			return nil, false
		}
		return &ConsumedHash{Hash: h}, true
	case KindAccess:
		return s.access.Clone(), true
	}
	return nil, false
}

// Restore loads a persisted record without journaling or marking it dirty.
// It is used when rebuilding state from storage or genesis.
func (s *State) Restore(v any) error {
	switch r := v.(type) {
	case *BalanceRecord:
		s.balances[balanceKey{r.Holder, r.Asset}] = fixed.Clone(r.Value)
	case *LoanOrder:
		s.loanOrders[r.Hash] = r.Clone()
	case *MarginOrder:
		s.marginOrders[r.Hash] = r.Clone()
	case *ReserveOrder:
		s.reserveOrders[r.Hash] = r.Clone()
	case *ReservePool:
		s.pools[r.Asset] = r.Clone()
	case *Account:
		s.accounts[r.Address] = r.Clone()
	case *UserAccounts:
		s.userAccounts[r.User] = append([]common.Address(nil), r.Accounts...)
	case *PairRate:
		s.rates[rateKey{r.Connector, r.From, r.To}] = fixed.Clone(r.Rate)
	case *ConsumedHash:
		s.consumed[r.Hash] = true
	case *Access:
		s.access = r.Clone()
	default:
		return fmt.Errorf("%w: %T", ErrUnknownRecord, v)
	}
	return nil
}

// NewRecord returns an empty record of the type stored under kind.
func NewRecord(kind Kind) (any, error) {
	switch kind {
	case KindBalance:
		return new(BalanceRecord), nil
	case KindLoanOrder:
		return new(LoanOrder), nil
	case KindMarginOrder:
		return new(MarginOrder), nil
	case KindReserveOrder:
		return new(ReserveOrder), nil
	case KindPool:
		return new(ReservePool), nil
	case KindAccount:
		return new(Account), nil
	case KindUserAccounts:
		return new(UserAccounts), nil
	case KindRate:
		return new(PairRate), nil
	case KindConsumed:
		return new(ConsumedHash), nil
	case KindAccess:
		return NewAccess(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownRecord, kind)
}

// Kinds lists every record family in load order.
func Kinds() []Kind {
	return []Kind{
		KindAccess, KindAccount, KindUserAccounts, KindBalance, KindRate,
		KindPool, KindReserveOrder, KindLoanOrder, KindMarginOrder, KindConsumed,
	}
}
