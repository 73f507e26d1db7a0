package txgen

import (
	"errors"
	"math/big"
	"math/rand"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Pair is a pool the generator trades on.
type Pair struct {
	A, B core.Token
}

// PriceFunc returns the spot price of from in units of to. Errors mean the
// pool has no price yet.
type PriceFunc func(from, to core.Token) (*big.Int, error)

// Generator creates signed DEX transactions for simulated traders.
// It is not safe for concurrent use.
type Generator struct {
	signers  []*crypto.Signer // Keypairs for simulated traders
	nonces   map[common.Address]uint64
	verifier *transaction.Verifier
	pairs    []Pair
	fund     *big.Int
	rng      *rand.Rand
}

func NewGenerator(domain crypto.EIP712Domain, cfg Config) (*Generator, error) {
	if len(cfg.Pairs) == 0 {
		return nil, errors.New("txgen: no pairs to trade")
	}
	if cfg.NumAccounts <= 0 {
		return nil, errors.New("txgen: no accounts")
	}
	fund := cfg.FundAmount
	if fund == nil || fund.Sign() <= 0 {
		fund = DefaultConfig().FundAmount
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	g := &Generator{
		signers:  make([]*crypto.Signer, cfg.NumAccounts),
		nonces:   make(map[common.Address]uint64),
		verifier: transaction.NewVerifier(domain),
		pairs:    cfg.Pairs,
		fund:     new(big.Int).Set(fund),
		rng:      rand.New(rand.NewSource(seed)),
	}
	for i := range g.signers {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		g.signers[i] = s
	}
	return g, nil
}

// Signers returns the simulated traders.
func (g *Generator) Signers() []*crypto.Signer { return g.signers }

// Nonce returns the last nonce used by addr.
func (g *Generator) Nonce(addr common.Address) uint64 { return g.nonces[addr] }

func (g *Generator) tokens() []core.Token {
	seen := make(map[core.Token]bool)
	var out []core.Token
	for _, p := range g.pairs {
		for _, t := range []core.Token{p.A, p.B} {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

// Setup funds every trader from the faucet and approves the engine for
// every token. The first trader also seeds each pool with a tenth of its
// funds so market orders have liquidity to swap against.
func (g *Generator) Setup() ([][]byte, error) {
	tokens := g.tokens()
	allowance := new(big.Int).Mul(g.fund, big.NewInt(1000))

	var txs [][]byte
	for _, s := range g.signers {
		for _, t := range tokens {
			raw, err := g.sign(s, &transaction.SignedTransaction{
				Type:   transaction.TxTypeFaucet,
				Faucet: &transaction.FaucetPayload{Token: t.Hex(), Amount: g.fund.String()},
			})
			if err != nil {
				return nil, err
			}
			txs = append(txs, raw)

			raw, err = g.sign(s, &transaction.SignedTransaction{
				Type:    transaction.TxTypeApprove,
				Approve: &transaction.ApprovePayload{Token: t.Hex(), Amount: allowance.String()},
			})
			if err != nil {
				return nil, err
			}
			txs = append(txs, raw)
		}
	}

	seed := new(big.Int).Quo(g.fund, big.NewInt(int64(10*len(g.pairs))))
	if seed.Sign() > 0 {
		for _, p := range g.pairs {
			raw, err := g.sign(g.signers[0], &transaction.SignedTransaction{
				Type: transaction.TxTypeLiquidity,
				Liquidity: &transaction.LiquidityPayload{
					TokenA: p.A.Hex(), AmountA: seed.String(),
					TokenB: p.B.Hex(), AmountB: seed.String(),
				},
			})
			if err != nil {
				return nil, err
			}
			txs = append(txs, raw)
		}
	}
	return txs, nil
}

// Order creates a signed order from a random trader on a random pair.
// About half are Limit orders, a third Stop and the rest Market. Limit and
// Stop prices land within 10% of spot, so roughly half execute on arrival.
func (g *Generator) Order(price PriceFunc) ([]byte, error) {
	s := g.signers[g.rng.Intn(len(g.signers))]
	p := g.pairs[g.rng.Intn(len(g.pairs))]
	from, to := p.A, p.B
	if g.rng.Intn(2) == 1 {
		from, to = to, from
	}

	var kind core.OrderKind
	switch r := g.rng.Intn(100); {
	case r < 50:
		kind = core.Limit
	case r < 85:
		kind = core.Stop
	default:
		kind = core.Market
	}

	spot := core.Scale()
	if price != nil {
		if sp, err := price(from, to); err == nil && sp.Sign() > 0 {
			spot = sp
		}
	}
	// spot * [0.90, 1.10)
	px := new(big.Int).Mul(spot, big.NewInt(int64(900+g.rng.Intn(200))))
	px.Quo(px, big.NewInt(1000))
	if kind == core.Market {
		px.SetInt64(0)
	}

	// 0.01 to 1.00 tokens
	qty := new(big.Int).Mul(big.NewInt(int64(g.rng.Intn(100)+1)), new(big.Int).Quo(core.Scale(), big.NewInt(100)))

	return g.sign(s, &transaction.SignedTransaction{
		Type: transaction.TxTypeOrder,
		Order: &transaction.OrderPayload{
			Kind:       uint8(kind),
			Price:      px.String(),
			Quantity:   qty.String(),
			TokenPair0: from.Hex(),
			TokenPair1: to.Hex(),
		},
	})
}

// Cancel creates a signed cancellation of orderID by owner. Owner must be
// one of the generator's traders.
func (g *Generator) Cancel(owner common.Address, orderID uint64) ([]byte, error) {
	for _, s := range g.signers {
		if s.Address() == owner {
			return g.sign(s, &transaction.SignedTransaction{
				Type:   transaction.TxTypeCancel,
				Cancel: &transaction.CancelPayload{OrderID: strconv.FormatUint(orderID, 10)},
			})
		}
	}
	return nil, errors.New("txgen: owner is not a simulated trader")
}

// sign fills the signer's next nonce and address into the payload, signs
// and serializes it.
func (g *Generator) sign(s *crypto.Signer, tx *transaction.SignedTransaction) ([]byte, error) {
	addr := s.Address()
	g.nonces[addr]++
	nonce := strconv.FormatUint(g.nonces[addr], 10)
	owner := addr.Hex()

	switch tx.Type {
	case transaction.TxTypeOrder:
		tx.Order.Nonce, tx.Order.Owner = nonce, owner
	case transaction.TxTypeCancel:
		tx.Cancel.Nonce, tx.Cancel.Owner = nonce, owner
	case transaction.TxTypeApprove:
		tx.Approve.Nonce, tx.Approve.Owner = nonce, owner
	case transaction.TxTypeLiquidity:
		tx.Liquidity.Nonce, tx.Liquidity.Provider = nonce, owner
	case transaction.TxTypeFaucet:
		tx.Faucet.Nonce, tx.Faucet.Owner = nonce, owner
	}

	if err := g.verifier.Sign(s, tx); err != nil {
		return nil, err
	}
	return tx.Serialize()
}
