package dex

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
)

// Engine is the matching engine. It owns the pool registry and the order
// book, and moves tokens through the ledger on behalf of users.
//
// Every mutating call holds the write lock, validates and stages its ledger
// transfers first, and only then touches pools and the book. A failed call
// leaves balances, reserves and orders exactly as they were. Readers take
// the read lock, so they see a call either fully applied or not at all.
type Engine struct {
	mu sync.RWMutex

	ledger  *ledger.Ledger
	pools   *pool.Registry
	book    *orderbook.OrderBook
	custody common.Address

	logger *zap.SugaredLogger

	// OnEvent, when set, receives every event after the call that produced
	// it has been applied.
	OnEvent func(Event)
}

// NewEngine creates an engine that escrows tokens at custody.
func NewEngine(l *ledger.Ledger, custody common.Address, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{
		ledger:  l,
		pools:   pool.NewRegistry(),
		book:    orderbook.New(),
		custody: custody,
		logger:  logger,
	}
}

// Custody returns the escrow account. Users approve it before submitting.
func (e *Engine) Custody() common.Address { return e.custody }

// Ledger returns the token ledger the engine settles against.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

func (e *Engine) emit(events ...Event) {
	if e.OnEvent == nil {
		return
	}
	for _, ev := range events {
		e.OnEvent(ev)
	}
}

// SubmitResult describes the outcome of a submission.
type SubmitResult struct {
	OrderID   uint64   `json:"orderId"`
	Executed  bool     `json:"executed"`
	AmountOut *big.Int `json:"amountOut,omitempty"`
}

// RegisterPair creates the pool for (a, b).
func (e *Engine) RegisterPair(a, b core.Token) (*pool.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pools.RegisterPair(a, b)
	if err != nil {
		return nil, err
	}
	t0, t1 := p.Tokens()
	e.logger.Infow("pair_registered", "token0", t0.Hex(), "token1", t1.Hex(), "pool", p.Address().Hex())
	return p, nil
}

// AddLiquidity pulls both amounts from provider into the pool's account and
// grows the reserves. The engine must be approved for both tokens.
func (e *Engine) AddLiquidity(provider common.Address, tokenA core.Token, amountA *big.Int, tokenB core.Token, amountB *big.Int) error {
	if amountA == nil || amountB == nil || amountA.Sign() < 0 || amountB.Sign() < 0 {
		return fmt.Errorf("%w: negative liquidity", core.ErrAmountTooLow)
	}
	if amountA.Sign() == 0 && amountB.Sign() == 0 {
		return fmt.Errorf("%w: empty deposit", core.ErrAmountTooLow)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, err := e.pools.GetPool(tokenA, tokenB)
	if err != nil {
		return err
	}

	batch := e.ledger.Begin()
	if err := batch.TransferFrom(e.custody, provider, p.Address(), tokenA, amountA); err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}
	if err := batch.TransferFrom(e.custody, provider, p.Address(), tokenB, amountB); err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("add liquidity: %w", err)
	}
	if err := p.AddLiquidity(tokenA, amountA, tokenB, amountB); err != nil {
		return fmt.Errorf("add liquidity after commit: %w", err)
	}

	e.logger.Infow("liquidity_added", "provider", provider.Hex(), "pool", p.Address().Hex(),
		"amount_a", amountA.String(), "amount_b", amountB.String())
	e.emit(priceChanged(p))
	return nil
}

// Submit places an order. Its quantity of tokenPair0 is escrowed first.
// Market orders always swap against the pool. Limit and Stop orders swap
// when the pool's spot price already satisfies them, and rest otherwise.
// Every submission consumes a fresh order id.
func (e *Engine) Submit(owner common.Address, kind core.OrderKind, price, quantity *big.Int, tokenPair0, tokenPair1 core.Token) (*SubmitResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: kind %d", core.ErrInvalidOrder, uint8(kind))
	}
	if !core.IsPositive(quantity) {
		return nil, fmt.Errorf("%w: quantity must be positive", core.ErrAmountTooLow)
	}
	if tokenPair0 == tokenPair1 {
		return nil, fmt.Errorf("%w: %s", core.ErrSameToken, tokenPair0.Hex())
	}
	if kind != core.Market && !core.IsPositive(price) {
		return nil, fmt.Errorf("%w: %s order needs a positive price", core.ErrInvalidOrder, kind)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	batch := e.ledger.Begin()
	if err := batch.TransferFrom(e.custody, owner, e.custody, tokenPair0, quantity); err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}

	p, execute, err := e.executionDecision(kind, price, tokenPair0, tokenPair1)
	if err != nil {
		return nil, err
	}

	if !execute {
		o := &orderbook.Order{
			ID:         e.book.NextID(),
			Owner:      owner,
			Kind:       kind,
			Price:      new(big.Int).Set(price),
			Quantity:   new(big.Int).Set(quantity),
			TokenPair0: tokenPair0,
			TokenPair1: tokenPair1,
		}
		if err := e.book.Insert(o); err != nil {
			return nil, fmt.Errorf("rest order: %w", err)
		}
		if err := batch.Commit(); err != nil {
			e.book.Cancel(o.ID, owner)
			return nil, fmt.Errorf("escrow: %w", err)
		}
		e.logger.Infow("order_rested", "order_id", o.ID, "owner", owner.Hex(), "kind", kind.String(),
			"price", price.String(), "quantity", quantity.String())
		e.emit(Event{Type: EventOrderCreated, Data: &OrderCreated{Order: viewOf(o)}})
		return &SubmitResult{OrderID: o.ID}, nil
	}

	amountOut, err := p.Quote(quantity, tokenPair0, tokenPair1)
	if err != nil {
		return nil, err
	}
	if err := batch.Transfer(e.custody, p.Address(), tokenPair0, quantity); err != nil {
		return nil, fmt.Errorf("swap input: %w", err)
	}
	if err := batch.Transfer(p.Address(), owner, tokenPair1, amountOut); err != nil {
		return nil, fmt.Errorf("swap output: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("swap: %w", err)
	}
	if _, err := p.Swap(quantity, tokenPair0, tokenPair1); err != nil {
		return nil, fmt.Errorf("swap after commit: %w", err)
	}

	id := e.book.NextID()
	e.logger.Infow("order_executed", "order_id", id, "owner", owner.Hex(), "kind", kind.String(),
		"amount_in", quantity.String(), "amount_out", amountOut.String())
	e.emit(
		Event{Type: EventMarketOrderExecuted, Data: &MarketOrderExecuted{
			OrderID:   id,
			Owner:     owner,
			Kind:      kind.String(),
			TokenIn:   tokenPair0,
			TokenOut:  tokenPair1,
			AmountIn:  new(big.Int).Set(quantity),
			AmountOut: amountOut,
		}},
		priceChanged(p),
	)
	return &SubmitResult{OrderID: id, Executed: true, AmountOut: new(big.Int).Set(amountOut)}, nil
}

// executionDecision reports whether a submission swaps immediately. Market
// orders need a pool with liquidity. Limit and Stop orders without a price
// to compare against simply rest.
func (e *Engine) executionDecision(kind core.OrderKind, price *big.Int, from, to core.Token) (*pool.Pool, bool, error) {
	p, err := e.pools.GetPool(from, to)
	if kind == core.Market {
		if err != nil {
			return nil, false, err
		}
		return p, true, nil
	}
	if errors.Is(err, core.ErrLPNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	spot, err := p.SpotPrice(from, to)
	if errors.Is(err, core.ErrNoLiquidity) {
		return p, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return p, thresholdMet(kind, price, spot), nil
}

// thresholdMet is the single trigger rule used at submission and at
// settlement: a Limit order is satisfied while its price is at or above the
// spot price, a Stop order while its price is at or below it.
func thresholdMet(kind core.OrderKind, price, spot *big.Int) bool {
	switch kind {
	case core.Limit:
		return price.Cmp(spot) >= 0
	case core.Stop:
		return price.Cmp(spot) <= 0
	}
	return true
}

// Cancel removes caller's order and refunds its remaining escrow.
func (e *Engine) Cancel(caller common.Address, orderID uint64) (*orderbook.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.book.Get(orderID)
	if err != nil {
		return nil, err
	}
	if o.Owner != caller {
		return nil, fmt.Errorf("%w: order %d belongs to %s", core.ErrNotOwner, orderID, o.Owner.Hex())
	}

	batch := e.ledger.Begin()
	if err := batch.Transfer(e.custody, o.Owner, o.TokenPair0, o.Quantity); err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("refund: %w", err)
	}
	removed, err := e.book.Cancel(orderID, caller)
	if err != nil {
		return nil, fmt.Errorf("cancel after refund: %w", err)
	}

	e.logger.Infow("order_cancelled", "order_id", orderID, "owner", caller.Hex(), "refunded", removed.Quantity.String())
	e.emit(Event{Type: EventOrderCancelled, Data: &OrderCancelled{
		OrderID:  orderID,
		Owner:    caller,
		Token:    removed.TokenPair0,
		Refunded: new(big.Int).Set(removed.Quantity),
	}})
	return removed, nil
}

// SpotPrice returns the pool's spot price for from -> to.
func (e *Engine) SpotPrice(from, to core.Token) (*big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pools.GetPool(from, to)
	if err != nil {
		return nil, err
	}
	return p.SpotPrice(from, to)
}

// Reserves returns the reserves of the (a, b) pool in the order asked.
func (e *Engine) Reserves(a, b core.Token) (*big.Int, *big.Int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pools.GetPool(a, b)
	if err != nil {
		return nil, nil, err
	}
	ra, err := p.Reserve(a)
	if err != nil {
		return nil, nil, err
	}
	rb, err := p.Reserve(b)
	if err != nil {
		return nil, nil, err
	}
	return ra, rb, nil
}

// PoolView is a consistent copy of one pool. Prices are nil while the pool
// has no liquidity.
type PoolView struct {
	Address  common.Address
	Token0   core.Token
	Token1   core.Token
	Reserve0 *big.Int
	Reserve1 *big.Int
	Price01  *big.Int
	Price10  *big.Int
}

func poolViewOf(p *pool.Pool) PoolView {
	st := p.State()
	v := PoolView{
		Address:  p.Address(),
		Token0:   st.Token0,
		Token1:   st.Token1,
		Reserve0: st.Reserve0,
		Reserve1: st.Reserve1,
	}
	if sp, err := p.SpotPrice(st.Token0, st.Token1); err == nil {
		v.Price01 = sp
	}
	if sp, err := p.SpotPrice(st.Token1, st.Token0); err == nil {
		v.Price10 = sp
	}
	return v
}

// Pool returns a view of the (a, b) pool.
func (e *Engine) Pool(a, b core.Token) (PoolView, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, err := e.pools.GetPool(a, b)
	if err != nil {
		return PoolView{}, err
	}
	return poolViewOf(p), nil
}

// Pools returns a view of every registered pool, ordered by pair.
func (e *Engine) Pools() []PoolView {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pools := e.pools.List()
	out := make([]PoolView, len(pools))
	for i, p := range pools {
		out[i] = poolViewOf(p)
	}
	return out
}

// Orders lists every live order by ascending id.
func (e *Engine) Orders() []*orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.ListAll()
}

// OrdersByOwner lists owner's live orders by ascending id.
func (e *Engine) OrdersByOwner(owner common.Address) []*orderbook.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.ListByOwner(owner)
}

// Order returns one live order.
func (e *Engine) Order(id uint64) (*orderbook.Order, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.book.Get(id)
}

// Holding is one token position of an account.
type Holding struct {
	Token     core.Token
	Symbol    string
	Balance   *big.Int
	Allowance *big.Int // granted to custody
}

// Holdings returns holder's balance and custody allowance for every
// registered token, read in one consistent step.
func (e *Engine) Holdings(holder common.Address) []Holding {
	e.mu.RLock()
	defer e.mu.RUnlock()

	tokens := e.ledger.Tokens()
	out := make([]Holding, len(tokens))
	for i, t := range tokens {
		out[i] = Holding{
			Token:     t.Token,
			Symbol:    t.Symbol,
			Balance:   e.ledger.BalanceOf(holder, t.Token),
			Allowance: e.ledger.Allowance(holder, e.custody, t.Token),
		}
	}
	return out
}

func viewOf(o *orderbook.Order) OrderView {
	return OrderView{
		ID:         o.ID,
		Owner:      o.Owner,
		Kind:       o.Kind.String(),
		Price:      new(big.Int).Set(o.Price),
		Quantity:   new(big.Int).Set(o.Quantity),
		TokenPair0: o.TokenPair0,
		TokenPair1: o.TokenPair1,
	}
}

func priceChanged(p *pool.Pool) Event {
	st := p.State()
	return Event{Type: EventPriceChanged, Data: &PriceChanged{
		Pool:     p.Address(),
		Token0:   st.Token0,
		Token1:   st.Token1,
		Reserve0: st.Reserve0,
		Reserve1: st.Reserve1,
	}}
}
