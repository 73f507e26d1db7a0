package abci

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/util"
)

const defaultMaxTxBytes = 1 << 24

// Sequencer is the single-node block producer. Every MinBlockTime it asks
// the application for a proposal and, when the proposal carries
// transactions, finalizes it as the next block. Empty rounds do not produce
// blocks, so heights only advance when state can change.
type Sequencer struct {
	App          Application
	Clock        util.Clock
	MinBlockTime time.Duration
	MaxTxBytes   int64
	Logger       *zap.SugaredLogger

	// OnBlockCommit runs after every committed block, on the sequencer goroutine.
	OnBlockCommit func(Block, ResponseFinalizeBlock)

	mu     sync.Mutex
	height int64
	last   Block
}

// NewSequencer resumes after last (zero value for a fresh chain).
func NewSequencer(app Application, clock util.Clock, minBlockTime time.Duration, last Block) *Sequencer {
	if clock == nil {
		clock = util.RealClock{}
	}
	if minBlockTime <= 0 {
		minBlockTime = 10 * time.Millisecond
	}
	return &Sequencer{
		App:          app,
		Clock:        clock,
		MinBlockTime: minBlockTime,
		MaxTxBytes:   defaultMaxTxBytes,
		Logger:       zap.NewNop().Sugar(),
		height:       last.Height,
		last:         last,
	}
}

// Height returns the height of the last committed block.
func (s *Sequencer) Height() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height
}

// LastBlock returns the last committed block.
func (s *Sequencer) LastBlock() Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Step produces at most one block. It reports false when there was nothing
// to sequence or the application refused the proposal.
func (s *Sequencer) Step() (Block, bool) {
	s.mu.Lock()
	next := s.height + 1
	s.mu.Unlock()

	prep := s.App.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: s.MaxTxBytes})
	if len(prep.Txs) == 0 {
		return Block{}, false
	}
	if resp := s.App.ProcessProposal(RequestProcessProposal{Height: next, Txs: prep.Txs}); !resp.Accept {
		s.Logger.Warnw("proposal_rejected", "height", next, "txs", len(prep.Txs))
		return Block{}, false
	}

	now := time.Unix(s.Clock.Now().Unix(), 0).UTC()
	fin := s.App.FinalizeBlock(RequestFinalizeBlock{Height: next, Timestamp: now.Unix(), Txs: prep.Txs})

	blk := Block{Height: next, Time: now, TxCount: len(prep.Txs), AppHash: fin.AppHash}

	s.mu.Lock()
	s.height = next
	s.last = blk
	s.mu.Unlock()

	failed := 0
	for _, r := range fin.Results {
		if !r.OK() {
			failed++
		}
	}
	s.Logger.Infow("block_committed",
		"height", blk.Height,
		"txs", blk.TxCount,
		"failed", failed,
		"app_hash", blk.AppHash.Hex())

	if s.OnBlockCommit != nil {
		s.OnBlockCommit(blk, fin)
	}
	return blk, true
}

// Run sequences blocks until ctx is cancelled.
func (s *Sequencer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Clock.After(s.MinBlockTime):
			s.Step()
		}
	}
}
