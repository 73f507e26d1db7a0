package core

import "errors"

// Engine error taxonomy. Every failing call returns one of these (wrapped with
// context) and leaves balances, reserves and the order book untouched.
var (
	ErrNoLiquidity               = errors.New("no liquidity")
	ErrAmountTooLow              = errors.New("amount too low")
	ErrInsufficientLiquidity     = errors.New("insufficient liquidity")
	ErrPairAlreadyRegistered     = errors.New("pair already registered")
	ErrLPNotFound                = errors.New("liquidity pool not found")
	ErrOrderNotFound             = errors.New("order not found")
	ErrInsufficientOrderQuantity = errors.New("insufficient order quantity")
	ErrNotOwner                  = errors.New("caller is not the order owner")
	ErrLimitPriceNotMet          = errors.New("limit price not met")
	ErrStopPriceNotMet           = errors.New("stop price not met")
	ErrInvalidChainPricing       = errors.New("invalid chain pricing")
)

// Ledger and input errors.
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidOrder          = errors.New("invalid order")
	ErrLengthMismatch        = errors.New("order ids and quantities length mismatch")
	ErrUnknownToken          = errors.New("unknown token")
	ErrSameToken             = errors.New("pair tokens must differ")
)

// ErrorClass tells callers how to react to a rejected call.
type ErrorClass string

const (
	ClassNone       ErrorClass = ""
	ClassRetryLater ErrorClass = "retry_later" // market may move; resubmit later
	ClassMalformed  ErrorClass = "malformed"   // request refers to something wrong
	ClassEconomic   ErrorClass = "economic"    // valid request, unacceptable economics
	ClassInternal   ErrorClass = "internal"
)

var (
	taggedErrors = []struct {
		err   error
		tag   string
		class ErrorClass
	}{
		{ErrLimitPriceNotMet, "LimitPriceNotMet", ClassRetryLater},
		{ErrStopPriceNotMet, "StopPriceNotMet", ClassRetryLater},
		{ErrOrderNotFound, "OrderNotFound", ClassMalformed},
		{ErrNotOwner, "NotOwner", ClassMalformed},
		{ErrLPNotFound, "LPNotFound", ClassMalformed},
		{ErrPairAlreadyRegistered, "PairAlreadyRegistered", ClassMalformed},
		{ErrInvalidOrder, "InvalidOrder", ClassMalformed},
		{ErrLengthMismatch, "LengthMismatch", ClassMalformed},
		{ErrUnknownToken, "UnknownToken", ClassMalformed},
		{ErrSameToken, "SameToken", ClassMalformed},
		{ErrAmountTooLow, "AmountTooLow", ClassMalformed},
		{ErrInsufficientOrderQuantity, "InsufficientOrderQuantity", ClassMalformed},
		{ErrInvalidChainPricing, "InvalidChainPricing", ClassEconomic},
		{ErrNoLiquidity, "NoLiquidity", ClassEconomic},
		{ErrInsufficientLiquidity, "InsufficientLiquidity", ClassEconomic},
		{ErrInsufficientBalance, "InsufficientBalance", ClassEconomic},
		{ErrInsufficientAllowance, "InsufficientAllowance", ClassEconomic},
	}
)

// Classify returns the error tag and class for err.
// Unknown non-nil errors are reported as internal.
func Classify(err error) (string, ErrorClass) {
	if err == nil {
		return "", ClassNone
	}
	for _, t := range taggedErrors {
		if errors.Is(err, t.err) {
			return t.tag, t.class
		}
	}
	return "Internal", ClassInternal
}
