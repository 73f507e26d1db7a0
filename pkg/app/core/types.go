package core

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Token identifies a fungible asset by its contract address.
// Resolved once at the edge (API, config) and passed around as a value.
type Token common.Address

// HexToToken parses a 0x-prefixed token address.
func HexToToken(s string) Token { return Token(common.HexToAddress(s)) }

// Address returns the underlying EVM address.
func (t Token) Address() common.Address { return common.Address(t) }

// Hex returns the EIP-55 checksummed address.
func (t Token) Hex() string { return common.Address(t).Hex() }

func (t Token) String() string { return t.Hex() }

// IsZero reports whether the token is the zero address.
func (t Token) IsZero() bool { return t == Token{} }

// MarshalText lets tokens be used as JSON map keys and values.
func (t Token) MarshalText() ([]byte, error) { return []byte(t.Hex()), nil }

func (t *Token) UnmarshalText(b []byte) error {
	s := string(b)
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: %q", ErrUnknownToken, s)
	}
	*t = HexToToken(s)
	return nil
}

// Less orders tokens by their raw address bytes.
func (t Token) Less(o Token) bool {
	return bytes.Compare(t[:], o[:]) < 0
}

// OrderKind is the order type. Values match the uint8 encoding used on the wire.
type OrderKind uint8

const (
	Market OrderKind = 0
	Limit  OrderKind = 1
	Stop   OrderKind = 2
)

func (k OrderKind) String() string {
	switch k {
	case Market:
		return "Market"
	case Limit:
		return "Limit"
	case Stop:
		return "Stop"
	default:
		return fmt.Sprintf("OrderKind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the known kinds.
func (k OrderKind) Valid() bool { return k <= Stop }

// ParseOrderKind accepts "market", "limit", "stop" in any case.
func ParseOrderKind(s string) (OrderKind, error) {
	switch strings.ToLower(s) {
	case "market":
		return Market, nil
	case "limit":
		return Limit, nil
	case "stop":
		return Stop, nil
	}
	return 0, fmt.Errorf("%w: unknown order kind %q", ErrInvalidOrder, s)
}

// ScaleExp is the number of decimals in the fixed-point price representation.
const ScaleExp = 18

// Scale returns a fresh copy of SCALE (10^18). All prices are token1-per-token0
// ratios multiplied by SCALE.
func Scale() *big.Int { return new(big.Int).Set(scale) }

var scale = new(big.Int).Exp(big.NewInt(10), big.NewInt(ScaleExp), nil)

// MulScale returns floor(amount * price / SCALE).
func MulScale(amount, price *big.Int) *big.Int {
	out := new(big.Int).Mul(amount, price)
	return out.Quo(out, scale)
}

// Ratio returns floor(num * SCALE / den). den must be non-zero.
func Ratio(num, den *big.Int) *big.Int {
	out := new(big.Int).Mul(num, scale)
	return out.Quo(out, den)
}

// ScaledInt returns n * SCALE.
func ScaledInt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), scale)
}

// IsPositive reports whether x is non-nil and greater than zero.
func IsPositive(x *big.Int) bool { return x != nil && x.Sign() > 0 }
