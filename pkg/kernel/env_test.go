package kernel

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperlend/pkg/access"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/escrow"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/exchange"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/registry"
	"github.com/uhyunpark/hyperlend/pkg/reserve"
)

const day = 86400

var (
	registryAddr      = common.HexToAddress("0x00000000000000000000000000000000000fac70")
	reserveAddr       = common.HexToAddress("0x000000000000000000000000000000000000e5e1")
	reserveEscrowAddr = common.HexToAddress("0x000000000000000000000000000000000000e5e2")
	kernelAddr        = common.HexToAddress("0x000000000000000000000000000000000000c0e1")
	kernelEscrowAddr  = common.HexToAddress("0x000000000000000000000000000000000000c0e2")
	marginAddr        = common.HexToAddress("0x000000000000000000000000000000000000c0f1")
	marginEscrowAddr  = common.HexToAddress("0x000000000000000000000000000000000000c0f2")
	connectorAddr     = common.HexToAddress("0x00000000000000000000000000000000000c0ec7")
	relayer           = common.HexToAddress("0x0000000000000000000000000000000000000ee1")

	loanAsset  = common.HexToAddress("0x00000000000000000000000000000000000000a1") // omg
	collAsset  = common.HexToAddress("0x00000000000000000000000000000000000000a2") // bat
	tradeAsset = common.HexToAddress("0x00000000000000000000000000000000000000a3")
)

type env struct {
	ctx     *ledger.Context
	kernel  *Kernel
	margin  *MarginKernel
	user    *crypto.Signer
	account common.Address
}

func newEnv(t *testing.T) *env {
	t.Helper()
	user, err := crypto.GenerateKey()
	require.NoError(t, err)

	st := ledger.NewState()
	for _, h := range []common.Address{reserveAddr, kernelAddr, marginAddr} {
		access.Grant(st, access.RoleHandler, h, true)
	}
	access.Grant(st, access.RoleConnector, connectorAddr, true)

	auth := crypto.PersonalSignAuthenticator{}
	reg := registry.New(registryAddr, auth)
	res := reserve.New(reserveAddr, escrow.New(reserveEscrowAddr, reserveAddr), reg, auth)
	ctx := ledger.NewContext(st, 1, 1_700_000_000, relayer)
	acct, err := reg.CreateAccount(ctx, user.Address())
	require.NoError(t, err)
	ctx.ResetEvents()

	// Pool liquidity and exchange inventory.
	require.NoError(t, st.Credit(reserveEscrowAddr, loanAsset, fixed.MustParse("10")))
	for _, a := range []common.Address{loanAsset, collAsset, tradeAsset} {
		require.NoError(t, st.Credit(connectorAddr, a, fixed.MustParse("10")))
	}

	deps := func(esc common.Address, owner common.Address) Deps {
		return Deps{
			Escrow:     escrow.New(esc, owner),
			Registry:   reg,
			Reserve:    res,
			Connectors: exchange.Directory{},
			Auth:       auth,
		}
	}
	return &env{
		ctx:     ctx,
		kernel:  New(kernelAddr, connectorAddr, deps(kernelEscrowAddr, kernelAddr)),
		margin:  NewMargin(marginAddr, deps(marginEscrowAddr, marginAddr)),
		user:    user,
		account: acct,
	}
}

func (e *env) sign(t *testing.T, h common.Hash) []byte {
	t.Helper()
	sig, err := e.user.SignHash(h)
	require.NoError(t, err)
	return sig
}

func (e *env) setRate(from, to common.Address, rate string) {
	e.ctx.State.SetPairRate(connectorAddr, from, to, fixed.MustParse(rate))
}

func (e *env) bal(holder, asset common.Address) string {
	return fixed.Format(e.ctx.State.Balance(holder, asset))
}

func (e *env) fund(t *testing.T, asset common.Address, value string) {
	t.Helper()
	require.NoError(t, e.ctx.State.Credit(e.account, asset, fixed.MustParse(value)))
}

// delta runs fn and returns how much holder's balance of asset moved.
func (e *env) delta(t *testing.T, holder, asset common.Address, fn func()) string {
	t.Helper()
	before := e.ctx.State.Balance(holder, asset)
	fn()
	after := e.ctx.State.Balance(holder, asset)
	if after.Lt(before) {
		return "-" + fixed.Format(new(uint256.Int).Sub(before, after))
	}
	return fixed.Format(new(uint256.Int).Sub(after, before))
}

func (e *env) loanTerms(loan, coll string) LoanTerms {
	return LoanTerms{
		Account:   e.account,
		Creator:   e.user.Address(),
		LoanAsset: loanAsset,
		CollAsset: collAsset,
		LoanValue: fixed.MustParse(loan),
		CollValue: fixed.MustParse(coll),
		Premium:   fixed.MustParse("0.08"),
		Duration:  uint256.NewInt(day),
		Salt:      uint256.NewInt(uint64(e.ctx.Time)),
		Fee:       fixed.Zero(),
	}
}

func lastEvent(t *testing.T, ctx *ledger.Context) events.Event {
	t.Helper()
	evs := ctx.Events()
	require.NotEmpty(t, evs)
	return evs[len(evs)-1]
}

func requireDiagnostic(t *testing.T, err error, method, reason string) *events.Diagnostic {
	t.Helper()
	d, ok := events.AsDiagnostic(err)
	require.Truef(t, ok, "expected diagnostic, got %v", err)
	require.Equal(t, method, d.Method)
	require.Equal(t, reason, d.Reason)
	return d
}

func wei(s string) string { return fixed.MustParse(s).Dec() }
