package solver

import (
	"math/big"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

// Quantities sizes a settlement for c. The first leg takes the largest x0
// such that no later leg exceeds its order's remaining quantity:
//
//	x0 = min_i floor(q_i * SCALE^i / prod_{j<i} p_j)
//
// and every next leg matches what the previous one owes,
// x_{i+1} = floor(x_i * p_i / SCALE). It reports false when some leg would
// match nothing or the closing leg owes more of the first token than x0.
func Quantities(c Cycle) ([]*big.Int, bool) {
	n := c.Len()
	if n < 2 {
		return nil, false
	}

	scale := core.Scale()
	num := big.NewInt(1) // SCALE^i
	den := big.NewInt(1) // prod_{j<i} p_j
	var x0 *big.Int
	for i, e := range c.Edges {
		if !core.IsPositive(e.Quantity) || e.Price == nil {
			return nil, false
		}
		if i > 0 {
			num.Mul(num, scale)
			den.Mul(den, c.Edges[i-1].Price)
		}
		if den.Sign() == 0 {
			return nil, false
		}
		bound := new(big.Int).Mul(e.Quantity, num)
		bound.Quo(bound, den)
		if x0 == nil || bound.Cmp(x0) < 0 {
			x0 = bound
		}
	}

	out := make([]*big.Int, n)
	out[0] = x0
	for i := 1; i < n; i++ {
		out[i] = core.MulScale(out[i-1], c.Edges[i-1].Price)
	}
	for _, x := range out {
		if x.Sign() <= 0 {
			return nil, false
		}
	}

	closing := core.MulScale(out[n-1], c.Edges[n-1].Price)
	if closing.Cmp(x0) > 0 {
		return nil, false
	}
	return out, true
}

// Surplus returns what the first token of c would pay the solver when
// settled with quantities.
func Surplus(c Cycle, quantities []*big.Int) *big.Int {
	n := c.Len()
	closing := core.MulScale(quantities[n-1], c.Edges[n-1].Price)
	return new(big.Int).Sub(quantities[0], closing)
}
