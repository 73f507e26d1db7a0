package pool

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

// Pool is a two-token liquidity pool with linear proportional pricing:
// a swap executes at the spot price observed before the trade.
//
// Reserves only grow through AddLiquidity and only move through Swap.
// The pool knows nothing about the order book.
type Pool struct {
	mu       sync.RWMutex
	token0   core.Token // always token0 < token1
	token1   core.Token
	reserve0 *big.Int
	reserve1 *big.Int
	address  common.Address
}

// New creates an empty pool for the unordered pair (a, b).
func New(a, b core.Token) (*Pool, error) {
	if a == b {
		return nil, fmt.Errorf("%w: %s", core.ErrSameToken, a.Hex())
	}
	t0, t1 := SortTokens(a, b)
	return &Pool{
		token0:   t0,
		token1:   t1,
		reserve0: new(big.Int),
		reserve1: new(big.Int),
		address:  Address(t0, t1),
	}, nil
}

// SortTokens returns the pair in canonical order.
func SortTokens(a, b core.Token) (core.Token, core.Token) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}

// Address derives the ledger account that custodies a pool's reserves.
func Address(a, b core.Token) common.Address {
	t0, t1 := SortTokens(a, b)
	h := crypto.Keccak256([]byte("hyperswap.pool"), t0[:], t1[:])
	return common.BytesToAddress(h[12:])
}

// Address returns the ledger account holding this pool's reserves.
func (p *Pool) Address() common.Address { return p.address }

// Tokens returns the pair in canonical order.
func (p *Pool) Tokens() (core.Token, core.Token) { return p.token0, p.token1 }

// Has reports whether t is one side of the pool.
func (p *Pool) Has(t core.Token) bool { return t == p.token0 || t == p.token1 }

// Reserves returns copies of both reserves in canonical token order.
func (p *Pool) Reserves() (*big.Int, *big.Int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return new(big.Int).Set(p.reserve0), new(big.Int).Set(p.reserve1)
}

// Reserve returns a copy of the reserve held for t.
func (p *Pool) Reserve(t core.Token) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, err := p.reserveLocked(t)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(r), nil
}

func (p *Pool) reserveLocked(t core.Token) (*big.Int, error) {
	switch t {
	case p.token0:
		return p.reserve0, nil
	case p.token1:
		return p.reserve1, nil
	}
	return nil, fmt.Errorf("%w: %s not in pool %s/%s", core.ErrUnknownToken, t.Hex(), p.token0.Hex(), p.token1.Hex())
}

func (p *Pool) directionLocked(from, to core.Token) (in, out *big.Int, err error) {
	if from == to {
		return nil, nil, fmt.Errorf("%w: %s", core.ErrSameToken, from.Hex())
	}
	if in, err = p.reserveLocked(from); err != nil {
		return nil, nil, err
	}
	if out, err = p.reserveLocked(to); err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// AddLiquidity grows both reserves. No ratio is enforced: unbalanced deposits
// move the spot price.
func (p *Pool) AddLiquidity(tokenA core.Token, amountA *big.Int, tokenB core.Token, amountB *big.Int) error {
	if amountA == nil || amountB == nil || amountA.Sign() < 0 || amountB.Sign() < 0 {
		return fmt.Errorf("%w: negative liquidity", core.ErrAmountTooLow)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ra, rb, err := p.directionLocked(tokenA, tokenB)
	if err != nil {
		return err
	}
	ra.Add(ra, amountA)
	rb.Add(rb, amountB)
	return nil
}

// SpotPrice returns reserve(to) * SCALE / reserve(from).
func (p *Pool) SpotPrice(from, to core.Token) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	in, out, err := p.directionLocked(from, to)
	if err != nil {
		return nil, err
	}
	if in.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s reserve is empty", core.ErrNoLiquidity, from.Hex())
	}
	return core.Ratio(out, in), nil
}

// Quote computes the output of swapping amountIn of from into to without
// changing the pool.
func (p *Pool) Quote(amountIn *big.Int, from, to core.Token) (*big.Int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.quoteLocked(amountIn, from, to)
}

func (p *Pool) quoteLocked(amountIn *big.Int, from, to core.Token) (*big.Int, error) {
	if !core.IsPositive(amountIn) {
		return nil, fmt.Errorf("%w: swap input must be positive", core.ErrAmountTooLow)
	}
	in, out, err := p.directionLocked(from, to)
	if err != nil {
		return nil, err
	}
	if in.Sign() == 0 {
		return nil, fmt.Errorf("%w: %s reserve is empty", core.ErrNoLiquidity, from.Hex())
	}

	amountOut := new(big.Int).Mul(amountIn, out)
	amountOut.Quo(amountOut, in)

	// The pool is never fully drained.
	if amountOut.Cmp(out) >= 0 {
		return nil, fmt.Errorf("%w: output %s would drain reserve %s", core.ErrInsufficientLiquidity, amountOut, out)
	}
	return amountOut, nil
}

// Swap trades amountIn of from for to at the pre-trade spot price and
// returns the amount paid out.
func (p *Pool) Swap(amountIn *big.Int, from, to core.Token) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	amountOut, err := p.quoteLocked(amountIn, from, to)
	if err != nil {
		return nil, err
	}
	in, out, _ := p.directionLocked(from, to)
	in.Add(in, amountIn)
	out.Sub(out, amountOut)
	return amountOut, nil
}

// State is the persisted form of a pool.
type State struct {
	Token0   core.Token `json:"token0"`
	Token1   core.Token `json:"token1"`
	Reserve0 *big.Int   `json:"reserve0"`
	Reserve1 *big.Int   `json:"reserve1"`
}

// State copies the pool for snapshots.
func (p *Pool) State() State {
	r0, r1 := p.Reserves()
	return State{Token0: p.token0, Token1: p.token1, Reserve0: r0, Reserve1: r1}
}

// FromState rebuilds a pool from a snapshot entry.
func FromState(s State) (*Pool, error) {
	p, err := New(s.Token0, s.Token1)
	if err != nil {
		return nil, err
	}
	if s.Reserve0 == nil || s.Reserve1 == nil || s.Reserve0.Sign() < 0 || s.Reserve1.Sign() < 0 {
		return nil, fmt.Errorf("pool %s/%s: invalid reserves", s.Token0.Hex(), s.Token1.Hex())
	}
	if p.token0 != s.Token0 {
		p.reserve0.Set(s.Reserve1)
		p.reserve1.Set(s.Reserve0)
	} else {
		p.reserve0.Set(s.Reserve0)
		p.reserve1.Set(s.Reserve1)
	}
	return p, nil
}
