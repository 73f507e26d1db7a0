package api

import (
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
)

// API response types for REST endpoints and WebSocket messages.
//
// Amounts and prices are decimal strings of the raw integers. Prices also
// come as a human readable decimal (raw / 10^18).

// ==============================
// REST Response Types
// ==============================

// TokenInfo is a registered token.
type TokenInfo struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

// PriceInfo is a SCALE fixed-point price.
type PriceInfo struct {
	Raw     string `json:"raw"`     // price * 10^18
	Decimal string `json:"decimal"` // e.g. "0.2"
}

// PoolInfo describes one liquidity pool.
type PoolInfo struct {
	Address  string     `json:"address"`
	Token0   string     `json:"token0"`
	Token1   string     `json:"token1"`
	Reserve0 string     `json:"reserve0"`
	Reserve1 string     `json:"reserve1"`
	Price01  *PriceInfo `json:"price01,omitempty"` // token0 -> token1, absent while empty
	Price10  *PriceInfo `json:"price10,omitempty"`
}

// SpotPriceInfo is the answer to a price query.
type SpotPriceInfo struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Price PriceInfo `json:"price"`
}

// OrderInfo is a resting order.
type OrderInfo struct {
	ID         uint64    `json:"id"`
	Owner      string    `json:"owner"`
	Kind       string    `json:"kind"` // "Market", "Limit", "Stop"
	Price      PriceInfo `json:"price"`
	Quantity   string    `json:"quantity"`
	TokenPair0 string    `json:"tokenPair0"`
	TokenPair1 string    `json:"tokenPair1"`
}

// BalanceInfo is one token balance of an account.
type BalanceInfo struct {
	Token     string `json:"token"`
	Symbol    string `json:"symbol"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"` // granted to the custody account
}

// AccountBalances is every balance of an account.
type AccountBalances struct {
	Address  string        `json:"address"`
	Nonce    uint64        `json:"nonce"`
	Balances []BalanceInfo `json:"balances"`
}

// ChainStatus represents the node's sequencing state.
type ChainStatus struct {
	Height      int64  `json:"height"`
	BlockTime   int64  `json:"blockTime"` // Unix seconds of the last block
	AppHash     string `json:"appHash"`
	MempoolSize int    `json:"mempoolSize"`
	Orders      int    `json:"orders"`
	Pools       int    `json:"pools"`
	Custody     string `json:"custody"`
	Faucet      bool   `json:"faucet"`
}

// BlockInfo is a committed block.
type BlockInfo struct {
	Height  int64  `json:"height"`
	Time    int64  `json:"time"`
	TxCount int    `json:"txCount"`
	AppHash string `json:"appHash"`
}

// TxInfo is the committed result of one transaction.
type TxInfo struct {
	Hash   string `json:"hash"`
	Height int64  `json:"height"`
	Index  int    `json:"index"`
	Type   string `json:"type,omitempty"`
	Code   uint32 `json:"code"`
	Tag    string `json:"tag,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SubmitTxResponse is returned for every accepted transaction.
type SubmitTxResponse struct {
	Status string `json:"status"` // "submitted"
	TxHash string `json:"txHash"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Tag     string `json:"tag,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest represents a WebSocket subscription request.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["orders", "pools:BNB-WETH"]
}

// WSMessage is pushed to subscribers of a channel.
type WSMessage struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Height  int64  `json:"height"`
	Data    any    `json:"data"`
}

// ==============================
// Conversions
// ==============================

func priceInfo(p *big.Int) PriceInfo {
	return PriceInfo{
		Raw:     p.String(),
		Decimal: decimal.NewFromBigInt(p, -core.ScaleExp).String(),
	}
}

func orderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Owner:      o.Owner.Hex(),
		Kind:       o.Kind.String(),
		Price:      priceInfo(o.Price),
		Quantity:   o.Quantity.String(),
		TokenPair0: o.TokenPair0.Hex(),
		TokenPair1: o.TokenPair1.Hex(),
	}
}

func poolInfo(v dex.PoolView) PoolInfo {
	info := PoolInfo{
		Address:  v.Address.Hex(),
		Token0:   v.Token0.Hex(),
		Token1:   v.Token1.Hex(),
		Reserve0: v.Reserve0.String(),
		Reserve1: v.Reserve1.String(),
	}
	if v.Price01 != nil {
		pi := priceInfo(v.Price01)
		info.Price01 = &pi
	}
	if v.Price10 != nil {
		pi := priceInfo(v.Price10)
		info.Price10 = &pi
	}
	return info
}
