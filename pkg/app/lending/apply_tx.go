package lending

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/access"
	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/events"
	"github.com/uhyunpark/hyperlend/pkg/exchange"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
)

var errPayload = errors.New("lending: payload does not match type")

// deliverTx verifies and applies one envelope. Every outcome other than
// StatusApplied leaves the ledger as it was, except that the envelope hash is
// consumed so the same envelope cannot be replayed into a later block.
func (a *App) deliverTx(height, timestamp int64, raw []byte) abci.Receipt {
	env, err := transaction.ParseEnvelope(raw)
	if err != nil {
		a.log.Debugw("tx_invalid", "height", height, "err", err)
		return abci.Receipt{Status: abci.StatusInvalid, Error: err.Error()}
	}
	r := abci.Receipt{Type: string(env.Type), Sender: env.Sender}

	sender, hash, err := a.verifier.VerifySender(env)
	r.TxHash = hash
	if err != nil {
		r.Status, r.Error = abci.StatusInvalid, err.Error()
		a.log.Debugw("tx_invalid", "height", height, "tx", hash.Hex(), "err", err)
		return r
	}
	if a.state.Consumed(hash) {
		r.Status = abci.StatusDuplicate
		return r
	}

	ctx := ledger.NewContext(a.state, height, timestamp, sender)
	snap := a.state.Snapshot()
	err = a.apply(ctx, env)
	switch d, soft := events.AsDiagnostic(err); {
	case err == nil:
		r.Status, r.Events = abci.StatusApplied, ctx.Events()
	case soft:
		a.state.RevertToSnapshot(snap)
		r.Status, r.Error = abci.StatusRejected, d.Reason
		r.Events = []events.Event{d.Event()}
		a.log.Debugw("tx_rejected",
			"height", height, "tx", hash.Hex(), "type", env.Type,
			"method", d.Method, "reason", d.Reason, "hint", d.Hash.Hex())
	default:
		a.state.RevertToSnapshot(snap)
		r.Status, r.Error = abci.StatusFailed, err.Error()
		a.log.Warnw("tx_failed", "height", height, "tx", hash.Hex(), "type", env.Type, "err", err)
	}
	a.state.Consume(hash)
	return r
}

// apply dispatches a verified envelope to its engine.
func (a *App) apply(ctx *ledger.Context, env *transaction.Envelope) error {
	payload, err := env.Decode()
	if err != nil {
		return err
	}
	caller := ctx.Sender

	switch p := payload.(type) {
	case *transaction.SetRole:
		role, err := access.ParseRole(p.Role)
		if err != nil {
			return err
		}
		return access.SetRole(ctx, caller, role, p.Subject, p.Enabled)

	case *transaction.ToggleAdminControl:
		return access.ToggleAdminControl(ctx, caller)

	case *transaction.SetPairRate:
		return exchange.SetPairRate(ctx, caller, p.Connector, p.From, p.To, p.Rate)

	case *transaction.CreateAccounts:
		_, err := a.registry.BatchCreateAccounts(ctx, p.Users)
		return err

	case *transaction.SetAccountValid:
		return a.registry.SetValid(ctx, caller, p.Account, p.Valid)

	case *transaction.UpdateReserve:
		return a.reserve.UpdateReserveValuesBatch(ctx, caller, p.Assets, p.MaxPeriods)

	case *transaction.UserChange:
		if env.Type == transaction.TxRemoveUser {
			return a.registry.RemoveUser(ctx, p.Account, p.User, p.Salt, p.Signature)
		}
		return a.registry.AddUser(ctx, p.Account, p.User, p.Salt, p.Signature)

	case *transaction.ChangeImplementation:
		return a.registry.ChangeImplementation(ctx, p.Account, p.Implementation, p.Salt, p.Signature)

	case *transaction.Transfer:
		return a.registry.TransferByUser(ctx, p.Account, p.Asset, p.To, p.Value, p.Salt, p.Signature)

	case *transaction.Deposit:
		return a.registry.Deposit(ctx, p.Account, p.Asset, p.Value, p.Salt, p.Signature)

	case *transaction.ReserveCreate:
		_, err := a.reserve.CreateOrder(ctx, p.Account, p.Asset, p.ByUser, p.Value, p.Duration, p.Salt, p.Signature)
		return err

	case *transaction.OrderRef:
		if env.Type == transaction.TxReserveCancel {
			return a.reserve.CancelOrder(ctx, p.OrderHash, p.Signature)
		}
		return a.reserve.ProcessOrder(ctx, p.OrderHash)

	case *transaction.UpdateOrder:
		return a.reserve.UpdateOrderCumulativeValue(ctx, p.OrderHash, p.MaxPeriods)

	case *transaction.LoanCreate:
		_, err := a.kernel.CreateOrder(ctx, p.LoanTerms, p.Signature)
		return err

	case *transaction.LoanRepay:
		return a.kernel.Repay(ctx, p.OrderHash, p.RepayValue, p.Signature)

	case *transaction.LoanProcess:
		return a.kernel.Process(ctx, p.OrderHash, p.Rate)

	case *transaction.MarginCreate:
		_, err := a.margin.CreateOrder(ctx, p.MarginTerms, p.Connector, p.Signature)
		return err

	case *transaction.MarginClose:
		return a.closeMargin(ctx, env.Type, p)
	}
	return fmt.Errorf("%w: %s", errPayload, env.Type)
}

func (a *App) closeMargin(ctx *ledger.Context, t transaction.TxType, p *transaction.MarginClose) error {
	switch t {
	case transaction.TxMarginLiquidate:
		return a.margin.LiquidateOrder(ctx, p.OrderHash, p.Connector, p.Rates, p.Signature)
	case transaction.TxMarginExpiry:
		return a.margin.ProcessTradeForExpiry(ctx, p.OrderHash, p.Connector)
	case transaction.TxMarginStopProfit:
		return a.margin.ProcessTradeForStopProfit(ctx, p.OrderHash, p.Connector, p.Rates)
	case transaction.TxMarginStopLoss:
		return a.margin.ProcessTradeForStopLoss(ctx, p.OrderHash, p.Connector, p.Rates)
	}
	return fmt.Errorf("%w: %s", errPayload, t)
}

// Contract addresses, exposed for clients building signed payloads.
func (a *App) KernelAddress() common.Address   { return a.contracts.Kernel }
func (a *App) MarginAddress() common.Address   { return a.contracts.Margin }
func (a *App) RegistryAddress() common.Address { return a.contracts.Registry }
