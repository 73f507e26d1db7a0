package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// TxType represents the type of transaction
type TxType string

const (
	TxTypeOrder     TxType = "order"     // Submit Market/Limit/Stop order
	TxTypeCancel    TxType = "cancel"    // Cancel resting order
	TxTypeMatch     TxType = "match"     // Settle a chain of resting orders
	TxTypeApprove   TxType = "approve"   // Set the engine's allowance
	TxTypeLiquidity TxType = "liquidity" // Deposit into a pool
	TxTypeFaucet    TxType = "faucet"    // Mint test tokens (dev networks only)
)

// SignedTransaction is the JSON envelope every client submits. Exactly one
// payload matching Type is set; the signature covers its EIP-712 form.
type SignedTransaction struct {
	Type      TxType            `json:"type"`
	Order     *OrderPayload     `json:"order,omitempty"`
	Cancel    *CancelPayload    `json:"cancel,omitempty"`
	Match     *MatchPayload     `json:"match,omitempty"`
	Approve   *ApprovePayload   `json:"approve,omitempty"`
	Liquidity *LiquidityPayload `json:"liquidity,omitempty"`
	Faucet    *FaucetPayload    `json:"faucet,omitempty"`
	Signature string            `json:"signature"` // Hex-encoded signature (0x...)
}

// OrderPayload contains order data for EIP-712 signing.
// Big integers travel as decimal strings, addresses as 0x hex.
type OrderPayload struct {
	Kind       uint8  `json:"kind"`       // 0=Market, 1=Limit, 2=Stop
	Price      string `json:"price"`      // SCALE fixed point; ignored for Market
	Quantity   string `json:"quantity"`   // amount of tokenPair0
	TokenPair0 string `json:"tokenPair0"` // offered token
	TokenPair1 string `json:"tokenPair1"` // desired token
	Nonce      string `json:"nonce"`
	Owner      string `json:"owner"`
}

// CancelPayload contains order cancellation data
type CancelPayload struct {
	OrderID string `json:"orderId"`
	Nonce   string `json:"nonce"`
	Owner   string `json:"owner"`
}

// MatchPayload is a chain settlement proposed by a solver.
type MatchPayload struct {
	OrderIDs   []string `json:"orderIds"`
	Quantities []string `json:"quantities"`
	Nonce      string   `json:"nonce"`
	Solver     string   `json:"solver"`
}

// ApprovePayload sets how much of Token the engine may pull from Owner.
type ApprovePayload struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

// LiquidityPayload deposits into the (TokenA, TokenB) pool.
type LiquidityPayload struct {
	TokenA   string `json:"tokenA"`
	AmountA  string `json:"amountA"`
	TokenB   string `json:"tokenB"`
	AmountB  string `json:"amountB"`
	Nonce    string `json:"nonce"`
	Provider string `json:"provider"`
}

// FaucetPayload requests Amount of Token for Owner.
type FaucetPayload struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
	Nonce  string `json:"nonce"`
	Owner  string `json:"owner"`
}

func parseUint(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s: %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// ToEIP712 converts the payload for signing/verification.
func (o *OrderPayload) ToEIP712() (*crypto.OrderEIP712, error) {
	price := o.Price
	if price == "" {
		price = "0"
	}
	p, err := parseUint("price", price)
	if err != nil {
		return nil, err
	}
	q, err := parseUint("quantity", o.Quantity)
	if err != nil {
		return nil, err
	}
	n, err := parseUint("nonce", o.Nonce)
	if err != nil {
		return nil, err
	}
	t0, err := parseAddress("tokenPair0", o.TokenPair0)
	if err != nil {
		return nil, err
	}
	t1, err := parseAddress("tokenPair1", o.TokenPair1)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", o.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.OrderEIP712{Kind: o.Kind, Price: p, Quantity: q, TokenPair0: t0, TokenPair1: t1, Nonce: n, Owner: owner}, nil
}

// FromEIP712Order converts a typed order back to its wire payload.
func FromEIP712Order(o *crypto.OrderEIP712) *OrderPayload {
	return &OrderPayload{
		Kind:       o.Kind,
		Price:      o.Price.String(),
		Quantity:   o.Quantity.String(),
		TokenPair0: o.TokenPair0.Hex(),
		TokenPair1: o.TokenPair1.Hex(),
		Nonce:      o.Nonce.String(),
		Owner:      o.Owner.Hex(),
	}
}

// ToEIP712 converts the payload for signing/verification.
func (c *CancelPayload) ToEIP712() (*crypto.CancelEIP712, error) {
	id, err := parseUint("orderId", c.OrderID)
	if err != nil {
		return nil, err
	}
	n, err := parseUint("nonce", c.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", c.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.CancelEIP712{OrderID: id, Nonce: n, Owner: owner}, nil
}

// ToEIP712 converts the payload for signing/verification.
func (m *MatchPayload) ToEIP712() (*crypto.MatchEIP712, error) {
	if len(m.OrderIDs) != len(m.Quantities) {
		return nil, fmt.Errorf("%d order ids but %d quantities", len(m.OrderIDs), len(m.Quantities))
	}
	ids := make([]*big.Int, len(m.OrderIDs))
	qtys := make([]*big.Int, len(m.Quantities))
	for i := range m.OrderIDs {
		id, err := parseUint("orderId", m.OrderIDs[i])
		if err != nil {
			return nil, err
		}
		q, err := parseUint("quantity", m.Quantities[i])
		if err != nil {
			return nil, err
		}
		ids[i], qtys[i] = id, q
	}
	n, err := parseUint("nonce", m.Nonce)
	if err != nil {
		return nil, err
	}
	solver, err := parseAddress("solver", m.Solver)
	if err != nil {
		return nil, err
	}
	return &crypto.MatchEIP712{OrderIDs: ids, Quantities: qtys, Nonce: n, Solver: solver}, nil
}

// ToEIP712 converts the payload for signing/verification.
func (a *ApprovePayload) ToEIP712() (*crypto.ApproveEIP712, error) {
	tok, err := parseAddress("token", a.Token)
	if err != nil {
		return nil, err
	}
	amt, err := parseUint("amount", a.Amount)
	if err != nil {
		return nil, err
	}
	n, err := parseUint("nonce", a.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", a.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.ApproveEIP712{Token: tok, Amount: amt, Nonce: n, Owner: owner}, nil
}

// ToEIP712 converts the payload for signing/verification.
func (l *LiquidityPayload) ToEIP712() (*crypto.LiquidityEIP712, error) {
	ta, err := parseAddress("tokenA", l.TokenA)
	if err != nil {
		return nil, err
	}
	aa, err := parseUint("amountA", l.AmountA)
	if err != nil {
		return nil, err
	}
	tb, err := parseAddress("tokenB", l.TokenB)
	if err != nil {
		return nil, err
	}
	ab, err := parseUint("amountB", l.AmountB)
	if err != nil {
		return nil, err
	}
	n, err := parseUint("nonce", l.Nonce)
	if err != nil {
		return nil, err
	}
	provider, err := parseAddress("provider", l.Provider)
	if err != nil {
		return nil, err
	}
	return &crypto.LiquidityEIP712{TokenA: ta, AmountA: aa, TokenB: tb, AmountB: ab, Nonce: n, Provider: provider}, nil
}

// ToEIP712 converts the payload for signing/verification.
func (f *FaucetPayload) ToEIP712() (*crypto.FaucetEIP712, error) {
	tok, err := parseAddress("token", f.Token)
	if err != nil {
		return nil, err
	}
	amt, err := parseUint("amount", f.Amount)
	if err != nil {
		return nil, err
	}
	n, err := parseUint("nonce", f.Nonce)
	if err != nil {
		return nil, err
	}
	owner, err := parseAddress("owner", f.Owner)
	if err != nil {
		return nil, err
	}
	return &crypto.FaucetEIP712{Token: tok, Amount: amt, Nonce: n, Owner: owner}, nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Hash identifies raw transaction bytes (Keccak-256).
func Hash(raw []byte) common.Hash { return ethcrypto.Keccak256Hash(raw) }

// Validate checks that the payload matching Type is present and populated.
func (tx *SignedTransaction) Validate() error {
	if tx.Type == "" {
		return fmt.Errorf("missing transaction type")
	}
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}

	var err error
	switch tx.Type {
	case TxTypeOrder:
		if tx.Order == nil {
			return fmt.Errorf("order type requires order payload")
		}
		_, err = tx.Order.ToEIP712()
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel type requires cancel payload")
		}
		_, err = tx.Cancel.ToEIP712()
	case TxTypeMatch:
		if tx.Match == nil {
			return fmt.Errorf("match type requires match payload")
		}
		if len(tx.Match.OrderIDs) == 0 {
			return fmt.Errorf("match requires at least one order")
		}
		_, err = tx.Match.ToEIP712()
	case TxTypeApprove:
		if tx.Approve == nil {
			return fmt.Errorf("approve type requires approve payload")
		}
		_, err = tx.Approve.ToEIP712()
	case TxTypeLiquidity:
		if tx.Liquidity == nil {
			return fmt.Errorf("liquidity type requires liquidity payload")
		}
		_, err = tx.Liquidity.ToEIP712()
	case TxTypeFaucet:
		if tx.Faucet == nil {
			return fmt.Errorf("faucet type requires faucet payload")
		}
		_, err = tx.Faucet.ToEIP712()
	default:
		return fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	if err != nil {
		return fmt.Errorf("invalid %s payload: %w", tx.Type, err)
	}
	return nil
}

// Nonce returns the replay-protection nonce of the payload.
func (tx *SignedTransaction) Nonce() (uint64, error) {
	var raw string
	switch tx.Type {
	case TxTypeOrder:
		raw = tx.Order.Nonce
	case TxTypeCancel:
		raw = tx.Cancel.Nonce
	case TxTypeMatch:
		raw = tx.Match.Nonce
	case TxTypeApprove:
		raw = tx.Approve.Nonce
	case TxTypeLiquidity:
		raw = tx.Liquidity.Nonce
	case TxTypeFaucet:
		raw = tx.Faucet.Nonce
	default:
		return 0, fmt.Errorf("unknown transaction type: %s", tx.Type)
	}
	n, err := parseUint("nonce", raw)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() {
		return 0, fmt.Errorf("nonce %s out of range", raw)
	}
	return n.Uint64(), nil
}

// ParseTransaction decodes and structurally validates a signed JSON tx.
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}

// Example (order):
//   {
//     "type": "order",
//     "order": {
//       "kind": 1,
//       "price": "2000000000000000000",
//       "quantity": "5",
//       "tokenPair0": "0x...B1",
//       "tokenPair1": "0x...E1",
//       "nonce": "1",
//       "owner": "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0"
//     },
//     "signature": "0x1234567890abcdef..."
//   }
