package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data.
// It prevents replaying a signature on another chain or deployment.
type EIP712Domain struct {
	Name              string         // Protocol name (e.g., "HyperSwap")
	Version           string         // Protocol version (e.g., "1")
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Custody address of the engine
}

// DefaultDomain returns the EIP-712 domain for a local HyperSwap node.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "HyperSwap",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// Typed data schemas for every signed DEX action.
var (
	orderType = []apitypes.Type{
		{Name: "kind", Type: "uint8"},
		{Name: "price", Type: "uint256"},
		{Name: "quantity", Type: "uint256"},
		{Name: "tokenPair0", Type: "address"},
		{Name: "tokenPair1", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
	cancelType = []apitypes.Type{
		{Name: "orderId", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
	matchType = []apitypes.Type{
		{Name: "orderIds", Type: "uint256[]"},
		{Name: "quantities", Type: "uint256[]"},
		{Name: "nonce", Type: "uint256"},
		{Name: "solver", Type: "address"},
	}
	approveType = []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
	liquidityType = []apitypes.Type{
		{Name: "tokenA", Type: "address"},
		{Name: "amountA", Type: "uint256"},
		{Name: "tokenB", Type: "address"},
		{Name: "amountB", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "provider", Type: "address"},
	}
	faucetType = []apitypes.Type{
		{Name: "token", Type: "address"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
)

// OrderEIP712 is the order a user signs in their wallet.
type OrderEIP712 struct {
	Kind       uint8 // 0 = Market, 1 = Limit, 2 = Stop
	Price      *big.Int
	Quantity   *big.Int
	TokenPair0 common.Address // offered
	TokenPair1 common.Address // desired
	Nonce      *big.Int
	Owner      common.Address
}

// CancelEIP712 is a signed cancellation of a resting order.
type CancelEIP712 struct {
	OrderID *big.Int
	Nonce   *big.Int
	Owner   common.Address
}

// MatchEIP712 is a solver's signed chain settlement.
type MatchEIP712 struct {
	OrderIDs   []*big.Int
	Quantities []*big.Int
	Nonce      *big.Int
	Solver     common.Address
}

// ApproveEIP712 lets the engine pull amount of token from owner.
type ApproveEIP712 struct {
	Token  common.Address
	Amount *big.Int
	Nonce  *big.Int
	Owner  common.Address
}

// LiquidityEIP712 deposits both sides of a pool.
type LiquidityEIP712 struct {
	TokenA   common.Address
	AmountA  *big.Int
	TokenB   common.Address
	AmountB  *big.Int
	Nonce    *big.Int
	Provider common.Address
}

// FaucetEIP712 requests test tokens on development networks.
type FaucetEIP712 struct {
	Token  common.Address
	Amount *big.Int
	Nonce  *big.Int
	Owner  common.Address
}

// EIP712Signer hashes, signs and verifies DEX typed data for one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// Domain returns the signer's domain.
func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// hash computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func (e *EIP712Signer) hash(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(primary, msg)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", primary, err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// HashOrder returns the digest a wallet signs for an order.
func (e *EIP712Signer) HashOrder(o *OrderEIP712) ([]byte, error) {
	return e.hash("Order", orderType, apitypes.TypedDataMessage{
		"kind":       fmt.Sprintf("%d", o.Kind),
		"price":      o.Price.String(),
		"quantity":   o.Quantity.String(),
		"tokenPair0": o.TokenPair0.Hex(),
		"tokenPair1": o.TokenPair1.Hex(),
		"nonce":      o.Nonce.String(),
		"owner":      o.Owner.Hex(),
	})
}

// HashCancel returns the digest for a cancellation.
func (e *EIP712Signer) HashCancel(c *CancelEIP712) ([]byte, error) {
	return e.hash("CancelOrder", cancelType, apitypes.TypedDataMessage{
		"orderId": c.OrderID.String(),
		"nonce":   c.Nonce.String(),
		"owner":   c.Owner.Hex(),
	})
}

// HashMatch returns the digest for a chain settlement.
func (e *EIP712Signer) HashMatch(m *MatchEIP712) ([]byte, error) {
	return e.hash("MatchTrade", matchType, apitypes.TypedDataMessage{
		"orderIds":   bigSlice(m.OrderIDs),
		"quantities": bigSlice(m.Quantities),
		"nonce":      m.Nonce.String(),
		"solver":     m.Solver.Hex(),
	})
}

// HashApprove returns the digest for an allowance change.
func (e *EIP712Signer) HashApprove(a *ApproveEIP712) ([]byte, error) {
	return e.hash("Approve", approveType, apitypes.TypedDataMessage{
		"token":  a.Token.Hex(),
		"amount": a.Amount.String(),
		"nonce":  a.Nonce.String(),
		"owner":  a.Owner.Hex(),
	})
}

// HashLiquidity returns the digest for a pool deposit.
func (e *EIP712Signer) HashLiquidity(l *LiquidityEIP712) ([]byte, error) {
	return e.hash("AddLiquidity", liquidityType, apitypes.TypedDataMessage{
		"tokenA":   l.TokenA.Hex(),
		"amountA":  l.AmountA.String(),
		"tokenB":   l.TokenB.Hex(),
		"amountB":  l.AmountB.String(),
		"nonce":    l.Nonce.String(),
		"provider": l.Provider.Hex(),
	})
}

// HashFaucet returns the digest for a faucet request.
func (e *EIP712Signer) HashFaucet(f *FaucetEIP712) ([]byte, error) {
	return e.hash("Faucet", faucetType, apitypes.TypedDataMessage{
		"token":  f.Token.Hex(),
		"amount": f.Amount.String(),
		"nonce":  f.Nonce.String(),
		"owner":  f.Owner.Hex(),
	})
}

// SignDigest signs a digest produced by one of the Hash methods.
func SignDigest(signer *Signer, digest []byte) ([]byte, error) {
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign typed data: %w", err)
	}
	return sig, nil
}

// SignOrder signs an order and returns the signature
func (e *EIP712Signer) SignOrder(signer *Signer, o *OrderEIP712) ([]byte, error) {
	digest, err := e.HashOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash order: %w", err)
	}
	return SignDigest(signer, digest)
}

// VerifyOrderSignature reports whether signature was made by the order owner.
func (e *EIP712Signer) VerifyOrderSignature(o *OrderEIP712, signature []byte) (bool, error) {
	digest, err := e.HashOrder(o)
	if err != nil {
		return false, fmt.Errorf("failed to hash order: %w", err)
	}
	recovered, err := RecoverAddress(digest, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == o.Owner, nil
}

func bigSlice(xs []*big.Int) []interface{} {
	out := make([]interface{}, len(xs))
	for i, x := range xs {
		out[i] = x.String()
	}
	return out
}
