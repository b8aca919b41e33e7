// Package keeper periodically submits the reserve maintenance instruction so
// that closed period buckets are folded into the reserve index without an
// external bot.
package keeper

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlend/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperlend/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperlend/pkg/crypto"
	"github.com/uhyunpark/hyperlend/pkg/util"
)

// Pusher is the part of the application the feeder submits to.
type Pusher interface {
	PushTx(b []byte) mempool.Class
}

type Config struct {
	Assets     []common.Address
	Interval   time.Duration
	MaxPeriods int
}

type Feeder struct {
	cfg    Config
	signer *crypto.Signer
	app    Pusher
	clock  util.Clock
	log    *zap.SugaredLogger

	// nonce starts at the wall clock so restarts never reuse an envelope hash
	nonce uint64
	sent  int
}

func NewFeeder(cfg Config, signer *crypto.Signer, app Pusher, clock util.Clock, logger *zap.SugaredLogger) *Feeder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Feeder{
		cfg:    cfg,
		signer: signer,
		app:    app,
		clock:  clock,
		log:    logger,
		nonce:  uint64(clock.Now().UnixNano()),
	}
}

// Tick builds, signs and queues one update instruction.
func (f *Feeder) Tick() error {
	if len(f.cfg.Assets) == 0 {
		return nil
	}
	f.nonce++
	env, err := transaction.NewEnvelope(transaction.TxUpdateReserve, f.signer.Address(), uint256.NewInt(f.nonce),
		transaction.UpdateReserve{Assets: f.cfg.Assets, MaxPeriods: f.cfg.MaxPeriods})
	if err != nil {
		return err
	}
	if err := env.Sign(f.signer); err != nil {
		return fmt.Errorf("sign keeper update: %w", err)
	}
	raw, err := env.Serialize()
	if err != nil {
		return err
	}
	f.app.PushTx(raw)
	f.sent++
	return nil
}

// Run ticks every Interval until ctx is done.
func (f *Feeder) Run(ctx context.Context) {
	f.log.Infow("keeper_started",
		"keeper", f.signer.Address().Hex(),
		"assets", len(f.cfg.Assets),
		"interval", f.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			f.log.Infow("keeper_stopped", "sent", f.sent)
			return
		case <-f.clock.After(f.cfg.Interval):
			if err := f.Tick(); err != nil {
				f.log.Warnw("keeper_tick_failed", "err", err)
			}
		}
	}
}

// Start runs the feeder in the background and returns a function that stops it.
func Start(ctx context.Context, f *Feeder) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)
	go f.Run(feedCtx)
	return cancel
}
