package storage

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

var (
	holder = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	asset  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	conn   = common.HexToAddress("0x00000000000000000000000000000000000c0ec7")
)

var stores = map[string]func(t *testing.T) Store{
	"memory": func(*testing.T) Store { return NewInMemoryStore() },
	"pebble": func(t *testing.T) Store {
		s, err := NewPebbleStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	},
}

func genesisChanges(t *testing.T) []ledger.Change {
	t.Helper()
	st := ledger.NewState()
	require.NoError(t, st.Credit(holder, asset, fixed.MustParse("2.5")))
	st.SetPairRate(conn, asset, holder, fixed.MustParse("1.25"))
	st.PutLoanOrder(&ledger.LoanOrder{
		Hash:      common.HexToHash("0x0a"),
		Account:   holder,
		LoanAsset: asset,
		LoanValue: fixed.MustParse("1"),
		CreatedAt: 100,
	})
	st.Consume(common.HexToHash("0xff"))
	st.Finalize()
	return st.DrainChanges()
}

func TestCommitAndRestore(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			_, ok, err := s.LastBlock()
			require.NoError(t, err)
			require.False(t, ok)

			require.NoError(t, s.Commit(abci.Block{Height: 0, Timestamp: 100}, genesisChanges(t)))
			b1 := abci.Block{
				Height:    1,
				Timestamp: 101,
				AppHash:   common.HexToHash("0x01"),
				Txs:       [][]byte{[]byte(`{"type":"kernel.process"}`)},
				Receipts: []abci.Receipt{{
					Status: abci.StatusRejected,
					Events: []events.Event{events.NewErrorWithHint("Kernel::process", common.HexToHash("0x0a"), "ORDER_NOT_OPEN")},
				}},
			}
			require.NoError(t, s.Commit(b1, nil))

			last, ok, err := s.LastBlock()
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, b1, last)

			st, err := s.LoadState()
			require.NoError(t, err)
			require.Equal(t, "2.5", fixed.Format(st.Balance(holder, asset)))
			rate, ok := st.PairRate(conn, asset, holder)
			require.True(t, ok)
			require.Equal(t, "1.25", fixed.Format(rate))
			o, ok := st.LoanOrder(common.HexToHash("0x0a"))
			require.True(t, ok)
			require.Equal(t, int64(100), o.CreatedAt)
			require.True(t, st.Consumed(common.HexToHash("0xff")))
		})
	}
}

func TestLaterChangesOverwrite(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.Commit(abci.Block{Height: 0}, genesisChanges(t)))

			st, err := s.LoadState()
			require.NoError(t, err)
			require.NoError(t, st.Credit(holder, asset, fixed.MustParse("1")))
			st.Finalize()
			require.NoError(t, s.Commit(abci.Block{Height: 1}, st.DrainChanges()))

			st, err = s.LoadState()
			require.NoError(t, err)
			require.Equal(t, "3.5", fixed.Format(st.Balance(holder, asset)))
		})
	}
}

func TestCommitRejectsGaps(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.ErrorIs(t, s.Commit(abci.Block{Height: 1}, nil), ErrGap)
			require.NoError(t, s.Commit(abci.Block{Height: 0}, nil))
			require.ErrorIs(t, s.Commit(abci.Block{Height: 2}, nil), ErrGap)

			_, ok, err := s.Block(2)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestPebbleStoreReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Commit(abci.Block{Height: 0, AppHash: common.HexToHash("0xabc")}, genesisChanges(t)))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()
	last, ok, err := s.LastBlock()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, common.HexToHash("0xabc"), last.AppHash)

	st, err := s.LoadState()
	require.NoError(t, err)
	require.Equal(t, "2.5", fixed.Format(st.Balance(holder, asset)))
}
