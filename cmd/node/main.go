package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlend/params"
	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/api"
	"github.com/uhyunpark/hyperlend/pkg/app/lending"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/keeper"
	"github.com/uhyunpark/hyperlend/pkg/ledger"
	"github.com/uhyunpark/hyperlend/pkg/sequencer"
	"github.com/uhyunpark/hyperlend/pkg/storage"
	"github.com/uhyunpark/hyperlend/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(util.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Debug:      cfg.Log.Verbose,
	})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File)

	genesis, err := params.LoadGenesis(cfg.Node.GenesisPath)
	if err != nil {
		sugar.Fatalw("genesis_load_failed", "path", cfg.Node.GenesisPath, "err", err)
	}

	// ---- Storage ----
	var store storage.Store
	if cfg.Node.DataDir == "" {
		store = storage.NewInMemoryStore()
		sugar.Warn("no DATA_DIR set - state is kept in memory only")
	} else {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("store_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		store = ps
	}
	defer store.Close()

	// ---- App: load from disk or apply genesis ----
	app, tip, err := openApp(store, genesis, sugar)
	if err != nil {
		sugar.Fatalw("app_init_failed", "err", err)
	}

	var txLog storage.WAL = storage.NewNopWAL()
	if cfg.Node.TxLogPath != "" {
		fw, err := storage.NewFileWAL(cfg.Node.TxLogPath)
		if err != nil {
			sugar.Warnw("tx_log_disabled", "path", cfg.Node.TxLogPath, "err", err)
		} else {
			defer fw.Close()
			txLog = fw
			sugar.Infow("tx_log_enabled", "path", cfg.Node.TxLogPath)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, api.Options{
		AllowedOrigins: cfg.API.AllowedOrigins,
		Logger:         sugar,
		TxLog:          txLog,
	})
	app.OnCommit = apiServer.OnCommit
	go func() {
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Keeper (optional) ----
	if cfg.Keeper.PrivateKey != "" {
		signer, err := crypto.FromPrivateKeyHex(cfg.Keeper.PrivateKey)
		if err != nil {
			sugar.Fatalw("keeper_key_invalid", "err", err)
		}
		assets := make([]common.Address, 0, len(cfg.Keeper.Assets))
		for _, a := range cfg.Keeper.Assets {
			if !common.IsHexAddress(a) {
				sugar.Fatalw("keeper_asset_invalid", "asset", a)
			}
			assets = append(assets, common.HexToAddress(a))
		}
		f := keeper.NewFeeder(keeper.Config{
			Assets:     assets,
			Interval:   cfg.Keeper.Interval,
			MaxPeriods: cfg.Keeper.MaxPeriods,
		}, signer, app, util.RealClock{}, sugar)
		cancelKeeper := keeper.Start(ctx, f)
		defer cancelKeeper()
	} else {
		sugar.Info("keeper_disabled - set KEEPER_PRIVATE_KEY to enable")
	}

	// ---- Sequencer ----
	seq := sequencer.New(app, store, util.RealClock{}, sequencer.Config{
		BlockTime:     cfg.Node.BlockTime,
		MaxBlockBytes: cfg.Node.MaxBlockBytes,
	}, tip)
	seq.Logger = sugar
	seq.WAL = txLog
	seq.VerboseLogging = cfg.Log.Verbose

	sugar.Infow("node_starting",
		"chain_id", genesis.ChainID,
		"height", tip.Height,
		"app_hash", tip.AppHash.Hex(),
		"block_time_ms", cfg.Node.BlockTime.Milliseconds(),
		"api_addr", cfg.API.Addr)

	if err := seq.Run(ctx); err != nil && ctx.Err() == nil {
		sugar.Errorw("sequencer_failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", seq.Tip().Height)
}

// openApp restores the ledger from store, or applies genesis and commits it
// as block 0 when the store is empty.
func openApp(store storage.Store, g *params.Genesis, logger *zap.SugaredLogger) (*lending.App, abci.Block, error) {
	tip, ok, err := store.LastBlock()
	if err != nil {
		return nil, abci.Block{}, err
	}
	if ok {
		st, err := store.LoadState()
		if err != nil {
			return nil, abci.Block{}, err
		}
		app, err := lending.NewApp(g.Contracts, st, logger)
		if err != nil {
			return nil, abci.Block{}, err
		}
		app.Resume(tip.Height, tip.Timestamp, tip.AppHash)
		logger.Infow("state_restored", "height", tip.Height, "app_hash", tip.AppHash.Hex())
		return app, tip, nil
	}

	app, err := lending.NewApp(g.Contracts, ledger.NewState(), logger)
	if err != nil {
		return nil, abci.Block{}, err
	}
	changes, err := app.InitChain(g)
	if err != nil {
		return nil, abci.Block{}, err
	}
	st := app.Status()
	tip = abci.Block{Height: 0, Timestamp: st.Timestamp, AppHash: st.AppHash}
	if err := store.Commit(tip, changes); err != nil {
		return nil, abci.Block{}, err
	}
	return app, tip, nil
}
