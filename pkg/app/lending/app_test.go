package lending

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlend/params"
	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/kernel"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/registry"
)

const (
	genesisTime = int64(1_700_000_000)
	day         = int64(86400)
)

var (
	contracts = params.Contracts{
		Registry:      common.HexToAddress("0x00000000000000000000000000000000000fac70"),
		Reserve:       common.HexToAddress("0x000000000000000000000000000000000000e5e1"),
		ReserveEscrow: common.HexToAddress("0x000000000000000000000000000000000000e5e2"),
		Kernel:        common.HexToAddress("0x000000000000000000000000000000000000c0e1"),
		KernelEscrow:  common.HexToAddress("0x000000000000000000000000000000000000c0e2"),
		Margin:        common.HexToAddress("0x000000000000000000000000000000000000c0f1"),
		MarginEscrow:  common.HexToAddress("0x000000000000000000000000000000000000c0f2"),
		Connector:     common.HexToAddress("0x00000000000000000000000000000000000c0ec7"),
	}
	loanAsset = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	collAsset = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type fixture struct {
	app     *App
	relayer *crypto.Signer
	keeper  *crypto.Signer
	user    *crypto.Signer
	account common.Address
	genesis *params.Genesis
	nonce   uint64
	height  int64
	now     int64
}

func key(t *testing.T) *crypto.Signer {
	t.Helper()
	s, err := crypto.GenerateKey()
	require.NoError(t, err)
	return s
}

func testGenesis(admin, keeper, user common.Address) *params.Genesis {
	reg := registry.New(contracts.Registry, nil)
	account := reg.AccountAddress(user, 0)
	return &params.Genesis{
		ChainID:   "test",
		Timestamp: genesisTime,
		Contracts: contracts,
		Access: params.AccessList{
			Admins:  []common.Address{admin},
			Keepers: []common.Address{keeper},
		},
		Balances: []params.Balance{
			{Holder: contracts.ReserveEscrow, Asset: loanAsset, Value: "10"},
			{Holder: contracts.Connector, Asset: loanAsset, Value: "10"},
			{Holder: contracts.Connector, Asset: collAsset, Value: "10"},
			{Holder: account, Asset: collAsset, Value: "3"},
		},
		Rates: []params.Rate{
			{Connector: contracts.Connector, From: collAsset, To: loanAsset, Rate: "1"},
		},
		Accounts: []params.Account{{User: user}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{relayer: key(t), keeper: key(t), user: key(t), now: genesisTime}
	admin := key(t)
	g := testGenesis(admin.Address(), f.keeper.Address(), f.user.Address())
	require.NoError(t, g.Validate())

	app, err := NewApp(contracts, ledger.NewState(), nil)
	require.NoError(t, err)
	changes, err := app.InitChain(g)
	require.NoError(t, err)
	require.NotEmpty(t, changes)

	f.app, f.genesis = app, g
	accs := app.AccountsOf(f.user.Address())
	require.Len(t, accs, 1)
	f.account = accs[0]
	return f
}

func (f *fixture) envelope(t *testing.T, from *crypto.Signer, typ transaction.TxType, payload any) []byte {
	t.Helper()
	f.nonce++
	env, err := transaction.NewEnvelope(typ, from.Address(), uint256.NewInt(f.nonce), payload)
	require.NoError(t, err)
	require.NoError(t, env.Sign(from))
	raw, err := env.Serialize()
	require.NoError(t, err)
	return raw
}

func (f *fixture) block(txs ...[]byte) abci.ResponseFinalizeBlock {
	f.height++
	return f.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: f.height, Timestamp: f.now, Txs: txs})
}

func (f *fixture) sign(t *testing.T, h common.Hash) []byte {
	t.Helper()
	sig, err := f.user.SignHash(h)
	require.NoError(t, err)
	return sig
}

func (f *fixture) loanTerms(loan, coll string) kernel.LoanTerms {
	return kernel.LoanTerms{
		Account:   f.account,
		Creator:   f.user.Address(),
		LoanAsset: loanAsset,
		CollAsset: collAsset,
		LoanValue: fixed.MustParse(loan),
		CollValue: fixed.MustParse(coll),
		Premium:   fixed.MustParse("0.08"),
		Duration:  uint256.NewInt(uint64(day)),
		Salt:      uint256.NewInt(uint64(f.now)),
		Fee:       fixed.MustParse("0.01"),
	}
}

func (f *fixture) createLoan(t *testing.T, terms kernel.LoanTerms) []byte {
	return f.envelope(t, f.relayer, transaction.TxLoanCreate, transaction.LoanCreate{
		LoanTerms: terms,
		Signature: f.sign(t, kernel.OrderHash(contracts.Kernel, terms)),
	})
}

func balance(f *fixture, holder, asset common.Address) string {
	return fixed.Format(f.app.Balance(holder, asset))
}

func TestLoanLifecycleThroughBlocks(t *testing.T) {
	f := newFixture(t)
	terms := f.loanTerms("1", "1.5")
	orderHash := kernel.OrderHash(contracts.Kernel, terms)

	resp := f.block(f.createLoan(t, terms))
	require.Len(t, resp.Receipts, 1)
	r := resp.Receipts[0]
	require.Equal(t, abci.StatusApplied, r.Status, r.Error)
	require.Equal(t, string(transaction.TxLoanCreate), r.Type)
	require.Equal(t, f.relayer.Address(), r.Sender)
	require.Equal(t, events.TypeOrderCreated, r.Events[len(r.Events)-1].Type)

	require.Equal(t, "0.99", balance(f, f.account, loanAsset))
	require.Equal(t, "0.01", balance(f, f.relayer.Address(), loanAsset), "fee goes to the submitting relayer")
	require.Equal(t, "1.5", balance(f, contracts.KernelEscrow, collAsset))

	var stored bool
	for _, c := range resp.Changes {
		if c.Key.Kind == ledger.KindLoanOrder && c.Key.ID == orderHash.Hex() {
			stored = true
		}
	}
	require.True(t, stored, "loan order missing from block changes")

	f.now += 2 * day
	resp = f.block(f.envelope(t, f.relayer, transaction.TxLoanProcess, transaction.LoanProcess{OrderHash: orderHash}))
	r = resp.Receipts[0]
	require.Equal(t, abci.StatusApplied, r.Status, r.Error)
	ev := r.Events[len(r.Events)-1]
	require.Equal(t, events.TypeOrderDefaulted, ev.Type)
	require.Equal(t, events.ReasonKernelDueDatePassed, ev.Attributes["reason"])

	o, ok := f.app.LoanOrder(orderHash)
	require.True(t, ok)
	require.True(t, o.Defaulted)
	require.Equal(t, "10.08", balance(f, contracts.ReserveEscrow, loanAsset))

	st := f.app.Status()
	require.Equal(t, int64(2), st.Height)
	require.Equal(t, resp.AppHash, st.AppHash)
}

func TestRejectedInstructionEmitsHintOnly(t *testing.T) {
	f := newFixture(t)
	terms := f.loanTerms("1", "1.5")
	bad := f.envelope(t, f.relayer, transaction.TxLoanCreate, transaction.LoanCreate{
		LoanTerms: terms,
		Signature: f.sign(t, common.HexToHash("0x01")),
	})

	r := f.block(bad).Receipts[0]
	require.Equal(t, abci.StatusRejected, r.Status)
	require.Equal(t, events.ReasonSignerNotOrderCreator, r.Error)
	require.Len(t, r.Events, 1)
	require.Equal(t, events.TypeErrorWithHint, r.Events[0].Type)
	require.Equal(t, kernel.MethodCreateOrder, r.Events[0].Attributes["methodSig"])
	require.Equal(t, kernel.OrderHash(contracts.Kernel, terms).Hex(), r.Events[0].Attributes["bytes32Value"])

	require.Equal(t, "3", balance(f, f.account, collAsset))
	require.Equal(t, "0", balance(f, f.account, loanAsset))
}

func TestFailedInstructionRevertsEarlierSteps(t *testing.T) {
	f := newFixture(t)
	// Collateral is pulled before the reserve runs out of liquidity.
	terms := f.loanTerms("100", "1.5")

	r := f.block(f.createLoan(t, terms)).Receipts[0]
	require.Equal(t, abci.StatusFailed, r.Status)
	require.NotEmpty(t, r.Error)
	require.Empty(t, r.Events)

	require.Equal(t, "3", balance(f, f.account, collAsset))
	require.Equal(t, "0", balance(f, contracts.KernelEscrow, collAsset))
	_, exists := f.app.LoanOrder(kernel.OrderHash(contracts.Kernel, terms))
	require.False(t, exists)
}

func TestDuplicateEnvelope(t *testing.T) {
	f := newFixture(t)
	raw := f.createLoan(t, f.loanTerms("1", "1.5"))

	resp := f.block(raw, raw)
	require.Equal(t, abci.StatusApplied, resp.Receipts[0].Status)
	require.Equal(t, abci.StatusDuplicate, resp.Receipts[1].Status)

	resp = f.block(raw)
	require.Equal(t, abci.StatusDuplicate, resp.Receipts[0].Status)
	require.Empty(t, resp.Changes)
}

func TestFailedEnvelopeCannotBeReplayed(t *testing.T) {
	f := newFixture(t)
	raw := f.createLoan(t, f.loanTerms("100", "1.5"))
	require.Equal(t, abci.StatusFailed, f.block(raw).Receipts[0].Status)
	require.Equal(t, abci.StatusDuplicate, f.block(raw).Receipts[0].Status)
}

func TestInvalidEnvelopes(t *testing.T) {
	f := newFixture(t)
	raw := f.createLoan(t, f.loanTerms("1", "1.5"))
	env, err := transaction.ParseEnvelope(raw)
	require.NoError(t, err)
	env.Nonce = uint256.NewInt(999)
	forged, err := env.Serialize()
	require.NoError(t, err)

	resp := f.block([]byte("not json"), forged)
	require.Equal(t, abci.StatusInvalid, resp.Receipts[0].Status)
	require.Equal(t, abci.StatusInvalid, resp.Receipts[1].Status)
	require.Contains(t, resp.Receipts[1].Error, "sender signature")
	require.Equal(t, "3", balance(f, f.account, collAsset))
}

func TestKeeperOnlyRateUpdates(t *testing.T) {
	f := newFixture(t)
	update := transaction.SetPairRate{Connector: contracts.Connector, From: collAsset, To: loanAsset, Rate: fixed.MustParse("0.5")}

	resp := f.block(
		f.envelope(t, f.relayer, transaction.TxSetPairRate, update),
		f.envelope(t, f.keeper, transaction.TxSetPairRate, update),
	)
	require.Equal(t, abci.StatusRejected, resp.Receipts[0].Status)
	require.Equal(t, events.ReasonUnauthorizedCaller, resp.Receipts[0].Error)
	require.Equal(t, abci.StatusApplied, resp.Receipts[1].Status)

	rate, ok := f.app.PairRate(contracts.Connector, collAsset, loanAsset)
	require.True(t, ok)
	require.Equal(t, "0.5", fixed.Format(rate))
}

func TestAppHashIsDeterministic(t *testing.T) {
	f := newFixture(t)
	terms := f.loanTerms("1", "1.5")
	txs := [][]byte{
		f.createLoan(t, terms),
		f.envelope(t, f.relayer, transaction.TxLoanProcess, transaction.LoanProcess{OrderHash: kernel.OrderHash(contracts.Kernel, terms)}),
	}

	replica, err := NewApp(contracts, ledger.NewState(), nil)
	require.NoError(t, err)
	_, err = replica.InitChain(f.genesis)
	require.NoError(t, err)

	req := abci.RequestFinalizeBlock{Height: 1, Timestamp: genesisTime + 10, Txs: txs}
	a := f.app.FinalizeBlock(req)
	b := replica.FinalizeBlock(req)
	require.Equal(t, a.AppHash, b.AppHash)
	require.Len(t, b.Receipts, 2)

	c := f.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: 2, Timestamp: genesisTime + 20})
	require.NotEqual(t, a.AppHash, c.AppHash, "empty blocks still advance the hash chain")
}

func TestMempoolOrdersClosingBeforeOpening(t *testing.T) {
	f := newFixture(t)
	open := f.createLoan(t, f.loanTerms("1", "1.5"))
	rate := f.envelope(t, f.keeper, transaction.TxSetPairRate, transaction.SetPairRate{
		Connector: contracts.Connector, From: collAsset, To: loanAsset, Rate: fixed.MustParse("2"),
	})
	f.app.PushTx(open)
	f.app.PushTx(rate)

	prop := f.app.PrepareProposal(abci.RequestPrepareProposal{Height: 1})
	require.Len(t, prop.Txs, 2)
	require.Equal(t, rate, prop.Txs[0])
	require.Equal(t, 0, f.app.GetMempoolSize())
}
