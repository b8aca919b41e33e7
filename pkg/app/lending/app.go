// Package lending wires the settlement engines into a block application: it
// decodes relayer envelopes, applies them atomically against the ledger and
// reports receipts and the resulting app hash.
package lending

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlend/params"
	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/access"
	"github.com/uhyunpark/hyperlend/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/escrow"
	"github.com/uhyunpark/hyperlend/pkg/exchange"
	"github.com/uhyunpark/hyperlend/pkg/fixed"
	"github.com/uhyunpark/hyperlend/pkg/kernel"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/metrics"
	"github.com/uhyunpark/hyperlend/pkg/registry"
	"github.com/uhyunpark/hyperlend/pkg/reserve"
)

type App struct {
	mu sync.Mutex

	log      *zap.SugaredLogger
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	state    *ledger.State

	contracts params.Contracts
	registry  *registry.Registry
	reserve   *reserve.Reserve
	kernel    *kernel.Kernel
	margin    *kernel.MarginKernel

	height    int64
	timestamp int64
	appHash   common.Hash

	// OnCommit is called after every FinalizeBlock, outside the app lock.
	OnCommit func(abci.ResponseFinalizeBlock)
}

// NewApp builds the engines for the given contract addresses on top of st.
// st is either empty (call InitChain next) or restored from storage.
func NewApp(c params.Contracts, st *ledger.State, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	var maxDev *uint256.Int
	if c.MaxRateDeviation != "" {
		v, err := fixed.Parse(c.MaxRateDeviation)
		if err != nil {
			return nil, fmt.Errorf("max_rate_deviation: %w", err)
		}
		maxDev = v
	}

	auth := crypto.PersonalSignAuthenticator{}
	reg := registry.New(c.Registry, auth)
	res := reserve.New(c.Reserve, escrow.New(c.ReserveEscrow, c.Reserve), reg, auth)
	deps := func(esc, owner common.Address) kernel.Deps {
		return kernel.Deps{
			Escrow:     escrow.New(esc, owner),
			Registry:   reg,
			Reserve:    res,
			Connectors: exchange.Directory{MaxDeviation: maxDev},
			Auth:       auth,
		}
	}

	return &App{
		log:       logger,
		mempool:   mempool.NewMempool(),
		verifier:  transaction.NewVerifier(auth),
		state:     st,
		contracts: c,
		registry:  reg,
		reserve:   res,
		kernel:    kernel.New(c.Kernel, c.Connector, deps(c.KernelEscrow, c.Kernel)),
		margin:    kernel.NewMargin(c.Margin, deps(c.MarginEscrow, c.Margin)),
	}, nil
}

// InitChain writes the genesis ledger and returns the records it created so
// the caller can persist them.
func (a *App) InitChain(g *params.Genesis) ([]ledger.Change, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state
	ctx := ledger.NewContext(st, 0, g.Timestamp, common.Address{})

	grants := []struct {
		role  access.Role
		addrs []common.Address
	}{
		{access.RoleAdmin, g.Access.Admins},
		{access.RoleHandler, append([]common.Address{g.Contracts.Reserve, g.Contracts.Kernel, g.Contracts.Margin}, g.Access.Handlers...)},
		{access.RoleKeeper, g.Access.Keepers},
		{access.RoleConnector, append([]common.Address{g.Contracts.Connector}, g.Access.Connectors...)},
	}
	for _, gr := range grants {
		for _, addr := range gr.addrs {
			access.Grant(st, gr.role, addr, true)
		}
	}
	if g.Access.AdminControlDisabled {
		acl := st.Access()
		acl.AdminControlDisabled = true
		st.PutAccess(acl)
	}

	for _, b := range g.Balances {
		v, err := fixed.Parse(b.Value)
		if err != nil {
			return nil, fmt.Errorf("balance %s/%s: %w", b.Holder.Hex(), b.Asset.Hex(), err)
		}
		if err := st.Credit(b.Holder, b.Asset, v); err != nil {
			return nil, err
		}
	}
	for _, r := range g.Rates {
		v, err := fixed.Parse(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("rate %s->%s: %w", r.From.Hex(), r.To.Hex(), err)
		}
		st.SetPairRate(r.Connector, r.From, r.To, v)
	}
	for _, acc := range g.Accounts {
		if _, err := a.registry.CreateAccount(ctx, acc.User); err != nil {
			return nil, err
		}
	}

	st.Finalize()
	changes := st.DrainChanges()
	a.timestamp = g.Timestamp
	a.appHash = computeStateHash(common.Hash{}, 0, g.Timestamp, changes)
	a.log.Infow("genesis_applied",
		"chain_id", g.ChainID,
		"records", len(changes),
		"accounts", len(g.Accounts),
		"app_hash", a.appHash.Hex())
	return changes, nil
}

// Resume sets the chain tip after state was restored from storage.
func (a *App) Resume(height, timestamp int64, appHash common.Hash) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.height, a.timestamp, a.appHash = height, timestamp, appHash
}

// PushTx queues a raw envelope and returns the class it was queued under.
func (a *App) PushTx(b []byte) mempool.Class {
	c := a.mempool.PushRaw(b)
	metrics.Node().SetMempoolSize(a.mempool.Len())
	return c
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	txs := a.mempool.SelectForProposal(req.MaxTxBytes)
	metrics.Node().SetMempoolSize(a.mempool.Len())
	return abci.ResponsePrepareProposal{Txs: txs}
}

func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	receipts := make([]abci.Receipt, 0, len(req.Txs))
	for _, tx := range req.Txs {
		r := a.deliverTx(req.Height, req.Timestamp, tx)
		metrics.Node().ObserveInstruction(r.Type, r.Status)
		for _, ev := range r.Events {
			metrics.Node().ObserveEvent(ev.Type)
		}
		receipts = append(receipts, r)
	}
	a.state.Finalize()
	changes := a.state.DrainChanges()
	appHash := computeStateHash(a.appHash, req.Height, req.Timestamp, changes)
	a.height, a.timestamp, a.appHash = req.Height, req.Timestamp, appHash
	onCommit := a.OnCommit
	a.mu.Unlock()

	if len(req.Txs) > 0 {
		a.log.Infow("block_finalized",
			"height", req.Height,
			"txs", len(req.Txs),
			"records", len(changes),
			"app_hash", appHash.Hex())
	}

	resp := abci.ResponseFinalizeBlock{
		Height:    req.Height,
		Timestamp: req.Timestamp,
		Receipts:  receipts,
		Changes:   changes,
		AppHash:   appHash,
	}
	if onCommit != nil {
		onCommit(resp)
	}
	return resp
}

// computeStateHash chains the previous app hash with the block header and
// every record the block wrote, in key order.
func computeStateHash(prev common.Hash, height, timestamp int64, changes []ledger.Change) common.Hash {
	h := sha256.New()
	h.Write(prev[:])

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(timestamp))
	h.Write(buf[:])

	for _, c := range changes {
		h.Write([]byte(c.Key.Kind))
		h.Write([]byte{':'})
		h.Write([]byte(c.Key.ID))
		// records are plain structs and maps; encoding cannot fail and
		// encoding/json sorts map keys
		v, _ := json.Marshal(c.Value)
		h.Write(v)
	}
	return common.BytesToHash(h.Sum(nil))
}
