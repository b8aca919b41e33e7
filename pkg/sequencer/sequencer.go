// Package sequencer drives a single-node block loop: every tick it drains the
// mempool into a proposal, finalizes it against the application and persists
// the block with the records it changed.
package sequencer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperlend/pkg/abci"
	"github.com/uhyunpark/hyperlend/pkg/metrics"
	"github.com/uhyunpark/hyperlend/pkg/storage"
	"github.com/uhyunpark/hyperlend/pkg/util"
)

type Config struct {
	BlockTime     time.Duration
	MaxBlockBytes int64
}

type Sequencer struct {
	App   abci.Application
	Store storage.Store
	WAL   storage.WAL
	Clock util.Clock
	Cfg   Config

	Logger         *zap.SugaredLogger
	VerboseLogging bool // if false, only log blocks with transactions and errors

	tip abci.Block
}

// New continues the chain from tip, the last committed block.
func New(app abci.Application, store storage.Store, clock util.Clock, cfg Config, tip abci.Block) *Sequencer {
	return &Sequencer{
		App:    app,
		Store:  store,
		WAL:    storage.NewNopWAL(),
		Clock:  clock,
		Cfg:    cfg,
		Logger: zap.NewNop().Sugar(),
		tip:    tip,
	}
}

func (s *Sequencer) Tip() abci.Block { return s.tip }

// Run produces a block every BlockTime until ctx is cancelled or a block
// cannot be persisted.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.Cfg.BlockTime):
		}
		if _, _, err := s.Step(); err != nil {
			return err
		}
	}
}

// Step builds at most one block. Ticks with an empty mempool produce
// nothing and report false.
func (s *Sequencer) Step() (abci.Block, bool, error) {
	height := s.tip.Height + 1
	prop := s.App.PrepareProposal(abci.RequestPrepareProposal{Height: height, MaxTxBytes: s.Cfg.MaxBlockBytes})
	if len(prop.Txs) == 0 {
		if s.VerboseLogging {
			s.Logger.Debugw("empty_tick", "height", height)
		}
		return abci.Block{}, false, nil
	}

	start := time.Now()
	// block time never moves backwards even if the wall clock does
	ts := s.Clock.Now().Unix()
	if ts < s.tip.Timestamp {
		ts = s.tip.Timestamp
	}
	resp := s.App.FinalizeBlock(abci.RequestFinalizeBlock{Height: height, Timestamp: ts, Txs: prop.Txs})

	block := abci.Block{
		Height:    height,
		Timestamp: ts,
		PrevHash:  s.tip.AppHash,
		AppHash:   resp.AppHash,
		Txs:       prop.Txs,
		Receipts:  resp.Receipts,
	}
	if err := s.Store.Commit(block, resp.Changes); err != nil {
		s.Logger.Errorw("commit_failed", "height", height, "err", err)
		return abci.Block{}, false, fmt.Errorf("commit height %d: %w", height, err)
	}
	s.tip = block

	for _, r := range resp.Receipts {
		s.WAL.Append(fmt.Sprintf("apply height=%d tx=%s type=%s status=%s", height, r.TxHash.Hex(), r.Type, r.Status))
	}
	s.WAL.Append(fmt.Sprintf("commit height=%d txs=%d apphash=%s", height, len(block.Txs), block.AppHash.Hex()))

	took := time.Since(start)
	metrics.Node().ObserveBlock(height, len(block.Txs), took)
	s.Logger.Infow("commit",
		"height", height,
		"txs", len(block.Txs),
		"records", len(resp.Changes),
		"apphash", block.AppHash.Hex(),
		"took", took)
	return block, true, nil
}
