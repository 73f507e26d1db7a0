package solver

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Book is the read side of the engine the watcher scans.
type Book interface {
	Orders() []*orderbook.Order
	CheckChain(orderIDs []uint64, quantities []*big.Int) (*dex.Settlement, error)
}

// Submitter accepts signed transactions and reports committed nonces.
type Submitter interface {
	CheckTx(raw []byte) (common.Hash, *transaction.SignedTransaction, error)
	Nonce(account common.Address) uint64
}

// Config controls the watcher loop.
type Config struct {
	Interval    time.Duration // scan period
	MaxCycles   int           // candidate cycles checked per scan
	MaxCycleLen int           // longest chain proposed
}

func DefaultConfig() Config {
	return Config{
		Interval:    time.Second,
		MaxCycles:   64,
		MaxCycleLen: 6,
	}
}

// Proposal is a chain the watcher submitted.
type Proposal struct {
	TxHash     common.Hash
	Nonce      uint64
	OrderIDs   []uint64
	Quantities []*big.Int
}

// Watcher scans the live book for closed chains of orders and submits them
// as signed match transactions from its own account.
type Watcher struct {
	book     Book
	app      Submitter
	signer   *crypto.Signer
	verifier *transaction.Verifier
	cfg      Config
	logger   *zap.SugaredLogger

	notify chan struct{}

	nonce   uint64            // last nonce used
	pending map[uint64]uint64 // order id -> nonce of the proposal that uses it
}

func NewWatcher(book Book, app Submitter, signer *crypto.Signer, domain crypto.EIP712Domain, cfg Config, logger *zap.SugaredLogger) *Watcher {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = def.MaxCycles
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Watcher{
		book:     book,
		app:      app,
		signer:   signer,
		verifier: transaction.NewVerifier(domain),
		cfg:      cfg,
		logger:   logger,
		notify:   make(chan struct{}, 1),
		pending:  make(map[uint64]uint64),
	}
}

// Address is the account that receives chain surplus.
func (w *Watcher) Address() common.Address { return w.signer.Address() }

// Notify asks for a scan before the next tick. It never blocks.
func (w *Watcher) Notify() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// OnEvents is an App.OnEvents hook: new orders and price moves trigger a scan.
func (w *Watcher) OnEvents(events []dex.Event) {
	for _, ev := range events {
		if ev.Type == dex.EventOrderCreated || ev.Type == dex.EventPriceChanged {
			w.Notify()
			return
		}
	}
}

// Run scans on every tick and notification until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	w.logger.Infow("solver_started", "address", w.Address().Hex(), "interval", w.cfg.Interval)
	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("solver_stopped", "last_nonce", w.nonce)
			return
		case <-ticker.C:
		case <-w.notify:
		}
		if _, _, err := w.Step(); err != nil {
			w.logger.Warnw("solver_step_failed", "err", err)
		}
	}
}

// Step scans once and submits at most one proposal.
func (w *Watcher) Step() (*Proposal, bool, error) {
	committed := w.app.Nonce(w.Address())
	for id, n := range w.pending {
		if n <= committed {
			delete(w.pending, id)
		}
	}

	g := BuildGraph(w.openOrders())
	if g.Len() < 2 {
		return nil, false, nil
	}

	for _, c := range g.Cycles(w.cfg.MaxCycles, w.cfg.MaxCycleLen) {
		qs, ok := Quantities(c)
		if !ok {
			continue
		}
		ids := c.OrderIDs()
		if _, err := w.book.CheckChain(ids, qs); err != nil {
			w.logger.Debugw("solver_chain_skipped", "orders", ids, "err", err)
			continue
		}
		p, err := w.submit(committed, ids, qs)
		if err != nil {
			return nil, false, err
		}
		w.logger.Infow("solver_chain_proposed", "tx", p.TxHash.Hex(), "nonce", p.Nonce,
			"orders", ids, "surplus", Surplus(c, qs).String())
		return p, true, nil
	}
	return nil, false, nil
}

// openOrders drops orders already used by a proposal that has not committed.
func (w *Watcher) openOrders() []*orderbook.Order {
	all := w.book.Orders()
	if len(w.pending) == 0 {
		return all
	}
	out := all[:0]
	for _, o := range all {
		if _, busy := w.pending[o.ID]; !busy {
			out = append(out, o)
		}
	}
	return out
}

func (w *Watcher) submit(committed uint64, ids []uint64, qs []*big.Int) (*Proposal, error) {
	nonce := w.nonce + 1
	if nonce <= committed {
		nonce = committed + 1
	}

	m := &transaction.MatchPayload{
		OrderIDs:   make([]string, len(ids)),
		Quantities: make([]string, len(qs)),
		Nonce:      strconv.FormatUint(nonce, 10),
		Solver:     w.Address().Hex(),
	}
	for i := range ids {
		m.OrderIDs[i] = strconv.FormatUint(ids[i], 10)
		m.Quantities[i] = qs[i].String()
	}
	tx := &transaction.SignedTransaction{Type: transaction.TxTypeMatch, Match: m}
	if err := w.verifier.Sign(w.signer, tx); err != nil {
		return nil, fmt.Errorf("sign match: %w", err)
	}
	raw, err := tx.Serialize()
	if err != nil {
		return nil, fmt.Errorf("encode match: %w", err)
	}
	hash, _, err := w.app.CheckTx(raw)
	if err != nil {
		return nil, fmt.Errorf("submit match: %w", err)
	}

	w.nonce = nonce
	for _, id := range ids {
		w.pending[id] = nonce
	}
	return &Proposal{TxHash: hash, Nonce: nonce, OrderIDs: ids, Quantities: qs}, nil
}
