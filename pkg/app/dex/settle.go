package dex

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/xid"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
)

// Leg is one order's part in a settled chain.
type Leg struct {
	Order   *orderbook.Order `json:"order"`
	Matched *big.Int         `json:"matched"` // of TokenPair0, taken from escrow
	Owed    *big.Int         `json:"owed"`    // of TokenPair1, paid to the owner
}

// Settlement is the outcome, or the preview, of a chain settlement.
type Settlement struct {
	ID      string         `json:"id,omitempty"`
	Solver  common.Address `json:"solver"`
	Legs    []Leg          `json:"legs"`
	Surplus []TokenAmount  `json:"surplus"` // per token, sorted, zero entries included
}

// MatchTrade settles a chain of resting orders in one all-or-nothing step.
// Each order gives up quantities[i] of its TokenPair0 from escrow and its
// owner receives floor(quantities[i] * price / SCALE) of TokenPair1. What the
// chain offers beyond what it owes, per token, goes to solver.
func (e *Engine) MatchTrade(solver common.Address, orderIDs []uint64, quantities []*big.Int) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.planLocked(orderIDs, quantities)
	if err != nil {
		return nil, err
	}
	s.Solver = solver
	s.ID = xid.New().String()

	batch := e.ledger.Begin()
	for _, leg := range s.Legs {
		if err := batch.Transfer(e.custody, leg.Order.Owner, leg.Order.TokenPair1, leg.Owed); err != nil {
			return nil, fmt.Errorf("pay order %d: %w", leg.Order.ID, err)
		}
	}
	for _, sp := range s.Surplus {
		if err := batch.Transfer(e.custody, solver, sp.Token, sp.Amount); err != nil {
			return nil, fmt.Errorf("pay surplus: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		return nil, fmt.Errorf("settle: %w", err)
	}

	events := make([]Event, 0, len(s.Legs)+1)
	for _, leg := range s.Legs {
		left, err := e.book.Reduce(leg.Order.ID, leg.Matched)
		if err != nil {
			return nil, fmt.Errorf("reduce order %d after commit: %w", leg.Order.ID, err)
		}
		events = append(events, Event{Type: EventOrderFilled, Data: &OrderFilled{
			OrderID:      leg.Order.ID,
			Owner:        leg.Order.Owner,
			SettlementID: s.ID,
			TokenPaid:    leg.Order.TokenPair0,
			Matched:      new(big.Int).Set(leg.Matched),
			TokenOwed:    leg.Order.TokenPair1,
			Owed:         new(big.Int).Set(leg.Owed),
			Remaining:    left,
		}})
	}
	events = append(events, Event{Type: EventChainSettled, Data: &ChainSettled{
		ID:       s.ID,
		Solver:   solver,
		OrderIDs: append([]uint64(nil), orderIDs...),
		Surplus:  s.Surplus,
	}})

	e.logger.Infow("chain_settled", "settlement_id", s.ID, "solver", solver.Hex(), "orders", orderIDs, "legs", len(s.Legs))
	e.emit(events...)
	return s, nil
}

// CheckChain runs every MatchTrade check and returns the settlement that
// would result, without changing anything.
func (e *Engine) CheckChain(orderIDs []uint64, quantities []*big.Int) (*Settlement, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.planLocked(orderIDs, quantities)
}

func (e *Engine) planLocked(orderIDs []uint64, quantities []*big.Int) (*Settlement, error) {
	if len(orderIDs) != len(quantities) {
		return nil, fmt.Errorf("%w: %d ids, %d quantities", core.ErrLengthMismatch, len(orderIDs), len(quantities))
	}
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("%w: empty chain", core.ErrInvalidOrder)
	}
	seen := make(map[uint64]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: order %d appears twice", core.ErrInvalidOrder, id)
		}
		seen[id] = struct{}{}
	}

	legs := make([]Leg, 0, len(orderIDs))
	for i, id := range orderIDs {
		o, err := e.book.Get(id)
		if err != nil {
			return nil, err
		}
		q := quantities[i]
		if !core.IsPositive(q) {
			return nil, fmt.Errorf("%w: order %d matched with %v", core.ErrAmountTooLow, id, q)
		}
		if q.Cmp(o.Quantity) > 0 {
			return nil, fmt.Errorf("%w: order %d has %s, matched %s", core.ErrInsufficientOrderQuantity, id, o.Quantity, q)
		}
		if err := e.checkThreshold(o); err != nil {
			return nil, err
		}
		legs = append(legs, Leg{
			Order:   o,
			Matched: new(big.Int).Set(q),
			Owed:    core.MulScale(q, o.Price),
		})
	}

	surplus, err := chainSurplus(legs)
	if err != nil {
		return nil, err
	}
	return &Settlement{Legs: legs, Surplus: surplus}, nil
}

// checkThreshold re-applies the submission trigger rule to a resting order.
// Orders whose pair has no pool, or no liquidity, have no price to fail.
func (e *Engine) checkThreshold(o *orderbook.Order) error {
	p, err := e.pools.GetPool(o.TokenPair0, o.TokenPair1)
	if errors.Is(err, core.ErrLPNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	spot, err := p.SpotPrice(o.TokenPair0, o.TokenPair1)
	if errors.Is(err, core.ErrNoLiquidity) {
		return nil
	}
	if err != nil {
		return err
	}
	if thresholdMet(o.Kind, o.Price, spot) {
		return nil
	}
	if o.Kind == core.Stop {
		return fmt.Errorf("%w: order %d stop %s, spot %s", core.ErrStopPriceNotMet, o.ID, o.Price, spot)
	}
	return fmt.Errorf("%w: order %d limit %s, spot %s", core.ErrLimitPriceNotMet, o.ID, o.Price, spot)
}

// chainSurplus balances the chain per token. Every offered token must also be
// owed to someone in the chain and the other way round, and no token may be
// owed more than is offered.
func chainSurplus(legs []Leg) ([]TokenAmount, error) {
	available := make(map[core.Token]*big.Int)
	required := make(map[core.Token]*big.Int)
	for _, leg := range legs {
		addTo(available, leg.Order.TokenPair0, leg.Matched)
		addTo(required, leg.Order.TokenPair1, leg.Owed)
	}

	tokens := make([]core.Token, 0, len(available))
	for t := range available {
		if _, ok := required[t]; !ok {
			return nil, fmt.Errorf("%w: %s is offered but owed to no order", core.ErrInvalidChainPricing, t.Hex())
		}
		tokens = append(tokens, t)
	}
	for t := range required {
		if _, ok := available[t]; !ok {
			return nil, fmt.Errorf("%w: %s is owed but offered by no order", core.ErrInvalidChainPricing, t.Hex())
		}
	}
	sort.Slice(tokens, func(i, j int) bool { return bytes.Compare(tokens[i][:], tokens[j][:]) < 0 })

	surplus := make([]TokenAmount, 0, len(tokens))
	for _, t := range tokens {
		left := new(big.Int).Sub(available[t], required[t])
		if left.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s owes %s, chain offers %s", core.ErrInvalidChainPricing, t.Hex(), required[t], available[t])
		}
		surplus = append(surplus, TokenAmount{Token: t, Amount: left})
	}
	return surplus, nil
}

func addTo(m map[core.Token]*big.Int, t core.Token, v *big.Int) {
	cur, ok := m[t]
	if !ok {
		cur = new(big.Int)
		m[t] = cur
	}
	cur.Add(cur, v)
}
