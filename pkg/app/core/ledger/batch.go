package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

// Batch stages transfers against a ledger without touching it.
// Reads see the ledger plus everything staged so far. Commit applies all
// staged deltas at once; a dropped batch leaves the ledger unchanged.
type Batch struct {
	l          *Ledger
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	ops        int
}

// Begin opens a new batch.
func (l *Ledger) Begin() *Batch {
	return &Batch{
		l:          l,
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
}

// BalanceOf returns the effective balance including staged deltas.
func (b *Batch) BalanceOf(holder common.Address, token core.Token) *big.Int {
	k := balanceKey{holder, token}
	v := b.l.BalanceOf(holder, token)
	if d, ok := b.balances[k]; ok {
		v.Add(v, d)
	}
	return v
}

func (b *Batch) allowance(k allowanceKey) *big.Int {
	v := b.l.Allowance(k.Owner, k.Spender, k.Token)
	if d, ok := b.allowances[k]; ok {
		v.Add(v, d)
	}
	return v
}

// Transfer stages a move of amount from one account to another.
func (b *Batch) Transfer(from, to common.Address, token core.Token, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", core.ErrAmountTooLow)
	}
	if amount.Sign() == 0 {
		return nil
	}
	if have := b.BalanceOf(from, token); have.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s holds %s of %s, needs %s",
			core.ErrInsufficientBalance, from.Hex(), have, token.Hex(), amount)
	}
	b.stage(balanceKey{from, token}, new(big.Int).Neg(amount))
	b.stage(balanceKey{to, token}, amount)
	b.ops++
	return nil
}

// TransferFrom stages a move on behalf of from, consuming spender's allowance.
func (b *Batch) TransferFrom(spender, from, to common.Address, token core.Token, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer", core.ErrAmountTooLow)
	}
	if spender != from {
		k := allowanceKey{from, spender, token}
		if have := b.allowance(k); have.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s approved %s for %s, needs %s",
				core.ErrInsufficientAllowance, from.Hex(), have, spender.Hex(), amount)
		}
		if err := b.Transfer(from, to, token, amount); err != nil {
			return err
		}
		d := b.allowances[k]
		if d == nil {
			d = new(big.Int)
		}
		b.allowances[k] = d.Sub(d, amount)
		return nil
	}
	return b.Transfer(from, to, token, amount)
}

// Len returns the number of staged transfers.
func (b *Batch) Len() int { return b.ops }

func (b *Batch) stage(k balanceKey, delta *big.Int) {
	d, ok := b.balances[k]
	if !ok {
		d = new(big.Int)
	}
	b.balances[k] = d.Add(d, delta)
}

// Commit applies every staged delta. It fails without applying anything if
// the ledger changed underneath the batch so that a balance would go negative.
func (b *Batch) Commit() error {
	l := b.l
	l.mu.Lock()
	defer l.mu.Unlock()

	for k, d := range b.balances {
		if v := l.balanceLocked(k); v.Add(v, d).Sign() < 0 {
			return fmt.Errorf("%w: %s on %s", core.ErrInsufficientBalance, k.Holder.Hex(), k.Token.Hex())
		}
	}
	for k, d := range b.allowances {
		if v := l.allowanceLocked(k); v.Add(v, d).Sign() < 0 {
			return fmt.Errorf("%w: %s for %s", core.ErrInsufficientAllowance, k.Owner.Hex(), k.Spender.Hex())
		}
	}

	for k, d := range b.balances {
		l.addLocked(k, d)
	}
	for k, d := range b.allowances {
		l.addAllowanceLocked(k, d)
	}
	b.balances = make(map[balanceKey]*big.Int)
	b.allowances = make(map[allowanceKey]*big.Int)
	b.ops = 0
	return nil
}
