package dex

import (
	"encoding/json"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

// EventType names an observable engine state change.
type EventType string

const (
	EventOrderCreated        EventType = "OrderCreated"
	EventMarketOrderExecuted EventType = "MarketOrderExecuted"
	EventOrderCancelled      EventType = "OrderCancelled"
	EventOrderFilled         EventType = "OrderFilled"
	EventChainSettled        EventType = "ChainSettled"
	EventPriceChanged        EventType = "PriceChanged"
)

// Event wraps one of the payload types below.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// Key returns the partition key used when streaming the event: the order id
// for order events, the settlement id for chains and the pool address for
// price changes.
func (ev Event) Key() string {
	switch d := ev.Data.(type) {
	case *OrderCreated:
		return strconv.FormatUint(d.Order.ID, 10)
	case *MarketOrderExecuted:
		return strconv.FormatUint(d.OrderID, 10)
	case *OrderCancelled:
		return strconv.FormatUint(d.OrderID, 10)
	case *OrderFilled:
		return strconv.FormatUint(d.OrderID, 10)
	case *ChainSettled:
		return d.ID
	case *PriceChanged:
		return d.Pool.Hex()
	}
	return string(ev.Type)
}

// Accounts lists the accounts an event concerns.
func (ev Event) Accounts() []common.Address {
	switch d := ev.Data.(type) {
	case *OrderCreated:
		return []common.Address{d.Order.Owner}
	case *MarketOrderExecuted:
		return []common.Address{d.Owner}
	case *OrderCancelled:
		return []common.Address{d.Owner}
	case *OrderFilled:
		return []common.Address{d.Owner}
	case *ChainSettled:
		return []common.Address{d.Solver}
	}
	return nil
}

// Encode renders the event as JSON.
func (ev Event) Encode() ([]byte, error) { return json.Marshal(ev) }

// OrderView is an order as reported in events and queries.
type OrderView struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	Kind       string         `json:"kind"`
	Price      *big.Int       `json:"price"`
	Quantity   *big.Int       `json:"quantity"`
	TokenPair0 core.Token     `json:"tokenPair0"`
	TokenPair1 core.Token     `json:"tokenPair1"`
}

// OrderCreated reports an order that came to rest in the book.
type OrderCreated struct {
	Order OrderView `json:"order"`
}

// MarketOrderExecuted reports a submission that swapped against a pool
// immediately, whatever its kind.
type MarketOrderExecuted struct {
	OrderID   uint64         `json:"orderId"`
	Owner     common.Address `json:"owner"`
	Kind      string         `json:"kind"`
	TokenIn   core.Token     `json:"tokenIn"`
	TokenOut  core.Token     `json:"tokenOut"`
	AmountIn  *big.Int       `json:"amountIn"`
	AmountOut *big.Int       `json:"amountOut"`
}

// OrderCancelled reports a cancellation and the escrow handed back.
type OrderCancelled struct {
	OrderID  uint64         `json:"orderId"`
	Owner    common.Address `json:"owner"`
	Token    core.Token     `json:"token"`
	Refunded *big.Int       `json:"refunded"`
}

// OrderFilled reports one leg of a settled chain.
type OrderFilled struct {
	OrderID      uint64         `json:"orderId"`
	Owner        common.Address `json:"owner"`
	SettlementID string         `json:"settlementId"`
	TokenPaid    core.Token     `json:"tokenPaid"`
	Matched      *big.Int       `json:"matched"`
	TokenOwed    core.Token     `json:"tokenOwed"`
	Owed         *big.Int       `json:"owed"`
	Remaining    *big.Int       `json:"remaining"`
}

// TokenAmount is an amount of one token.
type TokenAmount struct {
	Token  core.Token `json:"token"`
	Amount *big.Int   `json:"amount"`
}

// ChainSettled reports a completed chain settlement.
type ChainSettled struct {
	ID       string         `json:"id"`
	Solver   common.Address `json:"solver"`
	OrderIDs []uint64       `json:"orderIds"`
	Surplus  []TokenAmount  `json:"surplus"`
}

// PriceChanged reports pool reserves after a swap or a deposit.
type PriceChanged struct {
	Pool     common.Address `json:"pool"`
	Token0   core.Token     `json:"token0"`
	Token1   core.Token     `json:"token1"`
	Reserve0 *big.Int       `json:"reserve0"`
	Reserve1 *big.Int       `json:"reserve1"`
}
