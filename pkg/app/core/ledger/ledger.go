package ledger

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

type balanceKey struct {
	Holder common.Address
	Token  core.Token
}

type allowanceKey struct {
	Owner   common.Address
	Spender common.Address
	Token   core.Token
}

// Ledger holds fungible token balances and allowances for every account.
// It is the in-process stand-in for the token contracts: conservation of
// value holds for every transfer, and only Mint creates supply.
type Ledger struct {
	mu         sync.RWMutex
	balances   map[balanceKey]*big.Int
	allowances map[allowanceKey]*big.Int
	bySymbol   map[string]core.Token
	symbols    map[core.Token]string
}

// New creates an empty ledger with no registered tokens.
func New() *Ledger {
	return &Ledger{
		balances:   make(map[balanceKey]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		bySymbol:   make(map[string]core.Token),
		symbols:    make(map[core.Token]string),
	}
}

// RegisterToken makes a token known under a ticker symbol.
func (l *Ledger) RegisterToken(symbol string, token core.Token) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || token.IsZero() {
		return fmt.Errorf("%w: empty symbol or zero address", core.ErrUnknownToken)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.bySymbol[symbol]; ok && existing != token {
		return fmt.Errorf("symbol %s already bound to %s", symbol, existing.Hex())
	}
	if existing, ok := l.symbols[token]; ok && existing != symbol {
		return fmt.Errorf("token %s already registered as %s", token.Hex(), existing)
	}
	l.bySymbol[symbol] = token
	l.symbols[token] = symbol
	return nil
}

// Token resolves a symbol or a hex address to a registered token.
func (l *Ledger) Token(ref string) (core.Token, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if common.IsHexAddress(ref) {
		t := core.HexToToken(ref)
		if _, ok := l.symbols[t]; ok {
			return t, nil
		}
		return core.Token{}, fmt.Errorf("%w: %s", core.ErrUnknownToken, ref)
	}
	t, ok := l.bySymbol[strings.ToUpper(ref)]
	if !ok {
		return core.Token{}, fmt.Errorf("%w: %s", core.ErrUnknownToken, ref)
	}
	return t, nil
}

// Symbol returns the ticker of a registered token, or its hex address.
func (l *Ledger) Symbol(t core.Token) string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.symbols[t]; ok {
		return s
	}
	return t.Hex()
}

// TokenInfo pairs a symbol with its address.
type TokenInfo struct {
	Symbol string     `json:"symbol"`
	Token  core.Token `json:"token"`
}

// Tokens lists registered tokens sorted by symbol.
func (l *Ledger) Tokens() []TokenInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]TokenInfo, 0, len(l.bySymbol))
	for s, t := range l.bySymbol {
		out = append(out, TokenInfo{Symbol: s, Token: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Mint credits new supply to an account (deposit / faucet).
func (l *Ledger) Mint(to common.Address, token core.Token, amount *big.Int) error {
	if !core.IsPositive(amount) {
		return fmt.Errorf("%w: mint amount must be positive", core.ErrAmountTooLow)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(balanceKey{to, token}, amount)
	return nil
}

// BalanceOf returns a copy of holder's balance of token.
func (l *Ledger) BalanceOf(holder common.Address, token core.Token) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(balanceKey{holder, token})
}

// Balances returns every non-zero balance of holder.
func (l *Ledger) Balances(holder common.Address) map[core.Token]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[core.Token]*big.Int)
	for k, v := range l.balances {
		if k.Holder == holder {
			out[k.Token] = new(big.Int).Set(v)
		}
	}
	return out
}

// Approve sets the amount spender may move out of owner's balance.
func (l *Ledger) Approve(owner, spender common.Address, token core.Token, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("%w: allowance must be non-negative", core.ErrAmountTooLow)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	k := allowanceKey{owner, spender, token}
	if amount.Sign() == 0 {
		delete(l.allowances, k)
		return nil
	}
	l.allowances[k] = new(big.Int).Set(amount)
	return nil
}

// Allowance returns what spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender common.Address, token core.Token) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.allowances[allowanceKey{owner, spender, token}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Transfer moves amount of token from one account to another.
func (l *Ledger) Transfer(from, to common.Address, token core.Token, amount *big.Int) error {
	b := l.Begin()
	if err := b.Transfer(from, to, token, amount); err != nil {
		return err
	}
	return b.Commit()
}

// TransferFrom moves amount on behalf of from, consuming spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to common.Address, token core.Token, amount *big.Int) error {
	b := l.Begin()
	if err := b.TransferFrom(spender, from, to, token, amount); err != nil {
		return err
	}
	return b.Commit()
}

// TotalSupply sums every balance of token.
func (l *Ledger) TotalSupply(token core.Token) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	sum := new(big.Int)
	for k, v := range l.balances {
		if k.Token == token {
			sum.Add(sum, v)
		}
	}
	return sum
}

func (l *Ledger) balanceLocked(k balanceKey) *big.Int {
	if v, ok := l.balances[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (l *Ledger) allowanceLocked(k allowanceKey) *big.Int {
	if v, ok := l.allowances[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// addLocked adds delta (possibly negative) and drops zero entries so that
// snapshots stay canonical.
func (l *Ledger) addLocked(k balanceKey, delta *big.Int) {
	v := l.balanceLocked(k)
	v.Add(v, delta)
	if v.Sign() == 0 {
		delete(l.balances, k)
		return
	}
	l.balances[k] = v
}

func (l *Ledger) addAllowanceLocked(k allowanceKey, delta *big.Int) {
	v := l.allowanceLocked(k)
	v.Add(v, delta)
	if v.Sign() == 0 {
		delete(l.allowances, k)
		return
	}
	l.allowances[k] = v
}

// ============================================================================
// Snapshots
// ============================================================================

// Balance is one persisted balance entry.
type Balance struct {
	Holder common.Address `json:"holder"`
	Token  core.Token     `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// AllowanceEntry is one persisted allowance entry.
type AllowanceEntry struct {
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Token   core.Token     `json:"token"`
	Amount  *big.Int       `json:"amount"`
}

// Snapshot is the full ledger state in canonical (sorted) order.
type Snapshot struct {
	Tokens     []TokenInfo      `json:"tokens"`
	Balances   []Balance        `json:"balances"`
	Allowances []AllowanceEntry `json:"allowances"`
}

// Snapshot copies the ledger state.
func (l *Ledger) Snapshot() Snapshot {
	tokens := l.Tokens()

	l.mu.RLock()
	defer l.mu.RUnlock()

	snap := Snapshot{
		Tokens:     tokens,
		Balances:   make([]Balance, 0, len(l.balances)),
		Allowances: make([]AllowanceEntry, 0, len(l.allowances)),
	}
	for k, v := range l.balances {
		snap.Balances = append(snap.Balances, Balance{Holder: k.Holder, Token: k.Token, Amount: new(big.Int).Set(v)})
	}
	for k, v := range l.allowances {
		snap.Allowances = append(snap.Allowances, AllowanceEntry{Owner: k.Owner, Spender: k.Spender, Token: k.Token, Amount: new(big.Int).Set(v)})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		a, b := snap.Balances[i], snap.Balances[j]
		if c := bytes.Compare(a.Holder[:], b.Holder[:]); c != 0 {
			return c < 0
		}
		return a.Token.Less(b.Token)
	})
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c < 0
		}
		if c := bytes.Compare(a.Spender[:], b.Spender[:]); c != 0 {
			return c < 0
		}
		return a.Token.Less(b.Token)
	})
	return snap
}

// Restore replaces the ledger state with snap.
func (l *Ledger) Restore(snap Snapshot) error {
	fresh := New()
	for _, t := range snap.Tokens {
		if err := fresh.RegisterToken(t.Symbol, t.Token); err != nil {
			return fmt.Errorf("restore token %s: %w", t.Symbol, err)
		}
	}
	for _, b := range snap.Balances {
		if b.Amount == nil || b.Amount.Sign() < 0 {
			return fmt.Errorf("restore balance %s/%s: negative amount", b.Holder.Hex(), b.Token.Hex())
		}
		fresh.addLocked(balanceKey{b.Holder, b.Token}, b.Amount)
	}
	for _, a := range snap.Allowances {
		if a.Amount == nil || a.Amount.Sign() < 0 {
			return fmt.Errorf("restore allowance %s: negative amount", a.Owner.Hex())
		}
		fresh.addAllowanceLocked(allowanceKey{a.Owner, a.Spender, a.Token}, a.Amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = fresh.balances
	l.allowances = fresh.allowances
	l.bySymbol = fresh.bySymbol
	l.symbols = fresh.symbols
	return nil
}
