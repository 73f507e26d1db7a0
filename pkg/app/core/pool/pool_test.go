package pool

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

var (
	bnb  = core.HexToToken("0x00000000000000000000000000000000000000B1")
	weth = core.HexToToken("0x00000000000000000000000000000000000000E1")
	tusd = core.HexToToken("0x00000000000000000000000000000000000000C1")
)

// seeded returns a BNB/WETH pool holding 100 BNB and 200 WETH.
func seeded(t *testing.T) *Pool {
	t.Helper()
	p, err := New(bnb, weth)
	require.NoError(t, err)
	require.NoError(t, p.AddLiquidity(bnb, big.NewInt(100), weth, big.NewInt(200)))
	return p
}

func reserves(t *testing.T, p *Pool) (int64, int64) {
	t.Helper()
	rb, err := p.Reserve(bnb)
	require.NoError(t, err)
	rw, err := p.Reserve(weth)
	require.NoError(t, err)
	return rb.Int64(), rw.Int64()
}

func TestSpotPrice(t *testing.T) {
	p := seeded(t)

	price, err := p.SpotPrice(bnb, weth)
	require.NoError(t, err)
	assert.Equal(t, core.ScaledInt(2), price)

	price, err = p.SpotPrice(weth, bnb)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Quo(core.Scale(), big.NewInt(2)), price)
}

func TestSpotPriceEmptyPool(t *testing.T) {
	p, err := New(bnb, weth)
	require.NoError(t, err)

	_, err = p.SpotPrice(bnb, weth)
	assert.ErrorIs(t, err, core.ErrNoLiquidity)
}

func TestSwap(t *testing.T) {
	tests := []struct {
		name     string
		in       int64
		from, to core.Token
		wantOut  int64
		wantBNB  int64
		wantWETH int64
	}{
		{"bnb to weth", 5, bnb, weth, 10, 105, 190},
		{"weth to bnb floors", 5, weth, bnb, 2, 98, 205},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := seeded(t)
			out, err := p.Swap(big.NewInt(tt.in), tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOut, out.Int64())

			rb, rw := reserves(t, p)
			assert.Equal(t, tt.wantBNB, rb)
			assert.Equal(t, tt.wantWETH, rw)
		})
	}
}

func TestSwapSequenceUsesPreTradeReserves(t *testing.T) {
	p := seeded(t)

	out, err := p.Swap(big.NewInt(5), bnb, weth)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.Int64())

	// 5 * 105 / 190 = 2.76 -> 2
	out, err = p.Swap(big.NewInt(5), weth, bnb)
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Int64())

	rb, rw := reserves(t, p)
	assert.Equal(t, int64(103), rb)
	assert.Equal(t, int64(195), rw)
}

func TestSwapRejections(t *testing.T) {
	p := seeded(t)

	_, err := p.Swap(big.NewInt(0), bnb, weth)
	assert.ErrorIs(t, err, core.ErrAmountTooLow)

	// 100 BNB would pay out exactly the whole WETH reserve.
	_, err = p.Swap(big.NewInt(100), bnb, weth)
	assert.ErrorIs(t, err, core.ErrInsufficientLiquidity)

	_, err = p.Swap(big.NewInt(1), bnb, tusd)
	assert.ErrorIs(t, err, core.ErrUnknownToken)

	rb, rw := reserves(t, p)
	assert.Equal(t, int64(100), rb, "failed swaps leave reserves untouched")
	assert.Equal(t, int64(200), rw)
}

func TestQuoteHasNoEffect(t *testing.T) {
	p := seeded(t)

	out, err := p.Quote(big.NewInt(5), bnb, weth)
	require.NoError(t, err)
	assert.Equal(t, int64(10), out.Int64())

	rb, rw := reserves(t, p)
	assert.Equal(t, int64(100), rb)
	assert.Equal(t, int64(200), rw)
}

func TestAddLiquidityUnbalancedMovesPrice(t *testing.T) {
	p := seeded(t)
	require.NoError(t, p.AddLiquidity(weth, big.NewInt(200), bnb, big.NewInt(0)))

	price, err := p.SpotPrice(bnb, weth)
	require.NoError(t, err)
	assert.Equal(t, core.ScaledInt(4), price)
}

func TestStateRoundTripKeepsOrientation(t *testing.T) {
	p := seeded(t)
	st := p.State()

	restored, err := FromState(st)
	require.NoError(t, err)
	rb, rw := reserves(t, restored)
	assert.Equal(t, int64(100), rb)
	assert.Equal(t, int64(200), rw)
	assert.Equal(t, p.Address(), restored.Address())
}

func TestNewRejectsSameToken(t *testing.T) {
	_, err := New(bnb, bnb)
	assert.ErrorIs(t, err, core.ErrSameToken)
}
