package txgen

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// Config controls transaction generation rate
type Config struct {
	TxPerSecond float64 // Target transactions per second
	Burst       int
	NumAccounts int      // Number of simulated traders
	FundAmount  *big.Int // Faucet amount per trader and token
	CancelRatio float64  // Share of generated txs that cancel a resting order
	Pairs       []Pair
	Seed        int64 // 0 seeds from the clock
}

// DefaultConfig returns reasonable defaults for testing
func DefaultConfig() Config {
	return Config{
		TxPerSecond: 100, // modest load
		Burst:       10,
		NumAccounts: 50,
		FundAmount:  core.ScaledInt(1000),
		CancelRatio: 0.1,
	}
}

// HighLoadConfig returns config for stress testing
func HighLoadConfig() Config {
	cfg := DefaultConfig()
	cfg.TxPerSecond = 1000
	cfg.Burst = 100
	cfg.NumAccounts = 200
	return cfg
}

// Submitter accepts raw transactions into the mempool.
type Submitter interface {
	CheckTx(raw []byte) (common.Hash, *transaction.SignedTransaction, error)
}

// Market is the read side the feeder prices orders and picks cancels from.
type Market interface {
	SpotPrice(from, to core.Token) (*big.Int, error)
	OrdersByOwner(owner common.Address) []*orderbook.Order
}

// Feeder pushes generated transactions into the app at a fixed rate.
type Feeder struct {
	gen     *Generator
	app     Submitter
	market  Market
	limiter *rate.Limiter
	cancels float64
	logger  *zap.SugaredLogger

	submitted atomic.Uint64
	refused   atomic.Uint64
}

func NewFeeder(gen *Generator, app Submitter, market Market, cfg Config, logger *zap.SugaredLogger) *Feeder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.TxPerSecond <= 0 {
		cfg.TxPerSecond = DefaultConfig().TxPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &Feeder{
		gen:     gen,
		app:     app,
		market:  market,
		limiter: rate.NewLimiter(rate.Limit(cfg.TxPerSecond), cfg.Burst),
		cancels: cfg.CancelRatio,
		logger:  logger,
	}
}

// Stats returns how many transactions the mempool accepted and refused.
func (f *Feeder) Stats() (submitted, refused uint64) {
	return f.submitted.Load(), f.refused.Load()
}

// Run submits the setup transactions, then generated orders and cancels,
// until ctx is cancelled.
func (f *Feeder) Run(ctx context.Context) error {
	setup, err := f.gen.Setup()
	if err != nil {
		return err
	}
	for _, raw := range setup {
		f.submit(raw)
	}

	start := time.Now()
	report := time.NewTicker(10 * time.Second)
	defer report.Stop()

	f.logger.Infow("txgen_started",
		"accounts", len(f.gen.Signers()),
		"pairs", len(f.gen.pairs),
		"target_tps", float64(f.limiter.Limit()),
		"setup_txs", len(setup))

	for {
		if err := f.limiter.Wait(ctx); err != nil {
			// Wait also fails early when the next token is due after the deadline.
			<-ctx.Done()
			sub, ref := f.Stats()
			f.logger.Infow("txgen_stopped", "submitted", sub, "refused", ref,
				"elapsed", time.Since(start).Round(time.Second).String())
			return ctx.Err()
		}

		raw, err := f.next()
		if err != nil {
			f.logger.Warnw("txgen_failed", "err", err)
			continue
		}
		f.submit(raw)

		select {
		case <-report.C:
			sub, ref := f.Stats()
			elapsed := time.Since(start).Seconds()
			f.logger.Infow("txgen_stats", "submitted", sub, "refused", ref,
				"rate", float64(sub)/elapsed)
		default:
		}
	}
}

func (f *Feeder) next() ([]byte, error) {
	if f.cancels > 0 && f.gen.rng.Float64() < f.cancels {
		signers := f.gen.Signers()
		owner := signers[f.gen.rng.Intn(len(signers))].Address()
		if orders := f.market.OrdersByOwner(owner); len(orders) > 0 {
			return f.gen.Cancel(owner, orders[f.gen.rng.Intn(len(orders))].ID)
		}
	}
	return f.gen.Order(f.market.SpotPrice)
}

func (f *Feeder) submit(raw []byte) {
	if _, _, err := f.app.CheckTx(raw); err != nil {
		f.refused.Add(1)
		f.logger.Debugw("txgen_refused", "err", err)
		return
	}
	f.submitted.Add(1)
}
