package dex

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

type resting struct {
	owner common.Address
	from  core.Token
	to    core.Token
	price *big.Int
	qty   int64
}

// rest funds and places resting Limit orders with no pools registered, so
// no threshold applies. It returns their ids.
func (f *fixture) rest(legs ...resting) []uint64 {
	f.t.Helper()
	ids := make([]uint64, 0, len(legs))
	for _, l := range legs {
		f.fund(l.owner, l.from, l.qty)
		res := f.submit(l.owner, core.Limit, l.price, l.qty, l.from, l.to)
		require.False(f.t, res.Executed)
		ids = append(ids, res.OrderID)
	}
	return ids
}

func amounts(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func (f *fixture) remaining() map[uint64]int64 {
	out := make(map[uint64]int64)
	for _, o := range f.engine.Orders() {
		out[o.ID] = o.Quantity.Int64()
	}
	return out
}

func (f *fixture) snapshotBalances(who ...common.Address) map[common.Address]map[core.Token]int64 {
	out := make(map[common.Address]map[core.Token]int64)
	for _, a := range who {
		out[a] = make(map[core.Token]int64)
		for tok, v := range f.ledger.Balances(a) {
			out[a][tok] = v.Int64()
		}
	}
	return out
}

func surplusOf(s *Settlement, tok core.Token) int64 {
	for _, sp := range s.Surplus {
		if sp.Token == tok {
			return sp.Amount.Int64()
		}
	}
	return -1
}

func TestMatchTradeThreeWayCycle(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(1), 3},
		resting{addr1, weth, tusd, core.ScaledInt(1), 9},
		resting{addr2, tusd, bnb, scaled(1, 5), 12},
	)

	s, err := f.engine.MatchTrade(addr3, ids, amounts(3, 9, 12))
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)

	assert.Equal(t, int64(3), f.balance(addr1, weth))
	assert.Equal(t, int64(9), f.balance(addr1, tusd))
	assert.Equal(t, int64(2), f.balance(addr2, bnb), "floor(12 * 0.2)")

	assert.Equal(t, int64(6), f.balance(addr3, weth))
	assert.Equal(t, int64(3), f.balance(addr3, tusd))
	assert.Equal(t, int64(1), f.balance(addr3, bnb))
	assert.Equal(t, int64(6), surplusOf(s, weth))

	assert.Empty(t, f.engine.Orders(), "fully matched orders leave the book")
	for _, tok := range []core.Token{bnb, weth, tusd} {
		assert.Zero(t, f.balance(custody, tok), "escrow fully paid out")
	}

	types := f.eventTypes()
	assert.Equal(t, EventChainSettled, types[len(types)-1])
}

func TestMatchTradePartialFill(t *testing.T) {
	f := newFixture(t)
	price3 := new(big.Int).Add(scaled(1, 6), scaled(1, 5))
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(1), 12},
		resting{addr1, weth, tusd, core.ScaledInt(1), 9},
		resting{addr2, tusd, bnb, price3, 6},
	)

	s, err := f.engine.MatchTrade(addr3, ids, amounts(3, 5, 6))
	require.NoError(t, err)

	assert.Equal(t, int64(2), surplusOf(s, weth))
	assert.Equal(t, int64(1), surplusOf(s, tusd))
	assert.Equal(t, int64(1), surplusOf(s, bnb))
	assert.Equal(t, int64(2), f.balance(addr3, weth))
	assert.Equal(t, int64(1), f.balance(addr3, tusd))
	assert.Equal(t, int64(1), f.balance(addr3, bnb))
	assert.Equal(t, int64(2), f.balance(addr2, bnb))

	assert.Equal(t, map[uint64]int64{ids[0]: 9, ids[1]: 4}, f.remaining())
	assert.Equal(t, int64(9), f.balance(custody, bnb))
	assert.Equal(t, int64(4), f.balance(custody, weth))
}

func TestMatchTradeBalancedChainLeavesNoSurplus(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(2), 3},
		resting{addr1, weth, tusd, core.ScaledInt(1), 6},
		resting{addr2, tusd, bnb, scaled(1, 2), 6},
	)

	s, err := f.engine.MatchTrade(addr3, ids, amounts(3, 6, 6))
	require.NoError(t, err)
	for _, sp := range s.Surplus {
		assert.Zero(t, sp.Amount.Sign())
	}
	assert.Empty(t, f.ledger.Balances(addr3))
	assert.Equal(t, int64(6), f.balance(addr1, weth))
	assert.Equal(t, int64(6), f.balance(addr1, tusd))
	assert.Equal(t, int64(3), f.balance(addr2, bnb))
}

func TestMatchTradeFourWayCycle(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, tusd, core.ScaledInt(2), 15},
		resting{addr2, tusd, ada, core.ScaledInt(1), 20},
		resting{addr3, ada, ltc, core.ScaledInt(1), 10},
		resting{addr4, ltc, bnb, scaled(1, 2), 12},
	)

	_, err := f.engine.MatchTrade(addr2, ids, amounts(5, 10, 10, 10))
	require.NoError(t, err)

	assert.Equal(t, map[uint64]int64{ids[0]: 10, ids[1]: 10, ids[3]: 2}, f.remaining())
	assert.Equal(t, int64(10), f.balance(addr1, tusd))
	assert.Equal(t, int64(10), f.balance(addr2, ada))
	assert.Equal(t, int64(10), f.balance(addr3, ltc))
	assert.Equal(t, int64(5), f.balance(addr4, bnb))
}

func TestMatchTradeRejectsUnderpricedChains(t *testing.T) {
	tests := []struct {
		name   string
		prices [3]*big.Int
		qtys   [3]int64
		match  []int64
	}{
		{
			name:   "first leg owes more than offered",
			prices: [3]*big.Int{core.ScaledInt(2), core.ScaledInt(2), core.ScaledInt(6)},
			qtys:   [3]int64{3, 6, 6},
			match:  []int64{3, 3, 1},
		},
		{
			name:   "middle leg owes more than offered",
			prices: [3]*big.Int{core.ScaledInt(2), core.ScaledInt(1), core.ScaledInt(6)},
			qtys:   [3]int64{3, 6, 1},
			match:  []int64{3, 6, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ids := f.rest(
				resting{addr1, bnb, weth, tt.prices[0], tt.qtys[0]},
				resting{addr1, weth, tusd, tt.prices[1], tt.qtys[1]},
				resting{addr2, tusd, bnb, tt.prices[2], tt.qtys[2]},
			)
			before := f.snapshotBalances(addr1, addr2, addr3, custody)
			book := f.remaining()

			_, err := f.engine.MatchTrade(addr3, ids, amounts(tt.match...))
			require.ErrorIs(t, err, core.ErrInvalidChainPricing)

			assert.Equal(t, before, f.snapshotBalances(addr1, addr2, addr3, custody))
			assert.Equal(t, book, f.remaining())
		})
	}
}

func TestMatchTradeRejectsOpenChains(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(1), 3},
		resting{addr1, weth, tusd, core.ScaledInt(1), 9},
	)

	// BNB is offered but nobody is owed it; TUSD is owed but nobody offers it.
	_, err := f.engine.MatchTrade(addr3, ids, amounts(3, 9))
	require.ErrorIs(t, err, core.ErrInvalidChainPricing)
	assert.Len(t, f.engine.Orders(), 2)
}

func TestMatchTradeInputValidation(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(1), 3},
		resting{addr2, weth, bnb, core.ScaledInt(1), 3},
	)

	tests := []struct {
		name    string
		ids     []uint64
		qtys    []*big.Int
		wantErr error
	}{
		{"length mismatch", ids, amounts(1), core.ErrLengthMismatch},
		{"empty", nil, nil, core.ErrInvalidOrder},
		{"duplicate id", []uint64{ids[0], ids[0]}, amounts(1, 1), core.ErrInvalidOrder},
		{"unknown order", []uint64{ids[0], 99}, amounts(1, 1), core.ErrOrderNotFound},
		{"zero leg", ids, amounts(0, 1), core.ErrAmountTooLow},
		{"over quantity", ids, amounts(4, 1), core.ErrInsufficientOrderQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.MatchTrade(addr3, tt.ids, tt.qtys)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	assert.Equal(t, map[uint64]int64{ids[0]: 3, ids[1]: 3}, f.remaining())
}

func TestCheckChainHasNoEffect(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(1), 3},
		resting{addr1, weth, tusd, core.ScaledInt(1), 9},
		resting{addr2, tusd, bnb, scaled(1, 5), 12},
	)
	before := f.snapshotBalances(addr1, addr2, addr3, custody)
	nEvents := len(f.events)

	s, err := f.engine.CheckChain(ids, amounts(3, 9, 12))
	require.NoError(t, err)
	assert.Empty(t, s.ID, "previews are not settlements")
	require.Len(t, s.Legs, 3)
	assert.Equal(t, int64(2), s.Legs[2].Owed.Int64())

	assert.Equal(t, before, f.snapshotBalances(addr1, addr2, addr3, custody))
	assert.Len(t, f.engine.Orders(), 3)
	assert.Len(t, f.events, nEvents)
}

func TestPartialFillsAddUp(t *testing.T) {
	build := func() (*fixture, []uint64) {
		f := newFixture(t)
		return f, f.rest(
			resting{addr1, bnb, weth, core.ScaledInt(2), 10},
			resting{addr2, weth, bnb, scaled(1, 2), 20},
		)
	}

	once, idsA := build()
	_, err := once.engine.MatchTrade(addr3, idsA, amounts(6, 12))
	require.NoError(t, err)

	twice, idsB := build()
	_, err = twice.engine.MatchTrade(addr3, idsB, amounts(2, 4))
	require.NoError(t, err)
	_, err = twice.engine.MatchTrade(addr3, idsB, amounts(4, 8))
	require.NoError(t, err)

	who := []common.Address{addr1, addr2, addr3, custody}
	assert.Equal(t, once.snapshotBalances(who...), twice.snapshotBalances(who...))
	assert.Equal(t, once.remaining(), twice.remaining())
}

func TestCancelAfterPartialFillRefundsRemainder(t *testing.T) {
	f := newFixture(t)
	ids := f.rest(
		resting{addr1, bnb, weth, core.ScaledInt(2), 10},
		resting{addr2, weth, bnb, scaled(1, 2), 20},
	)
	_, err := f.engine.MatchTrade(addr3, ids, amounts(4, 8))
	require.NoError(t, err)

	removed, err := f.engine.Cancel(addr1, ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(6), removed.Quantity.Int64())
	assert.Equal(t, int64(6), f.balance(addr1, bnb), "exactly the unmatched remainder comes back")
	assert.Equal(t, int64(8), f.balance(addr1, weth))
}

func TestReadersNeverSeeHalfSettledChain(t *testing.T) {
	f := newFixture(t)
	const perSide = 200
	f.fund(addr1, bnb, 10*perSide)
	f.fund(addr2, weth, 10*perSide)

	var ids []uint64
	var qtys []*big.Int
	for i := 0; i < perSide; i++ {
		ids = append(ids, f.submit(addr1, core.Limit, core.Scale(), 10, bnb, weth).OrderID)
		ids = append(ids, f.submit(addr2, core.Limit, core.Scale(), 10, weth, bnb).OrderID)
		qtys = append(qtys, big.NewInt(10), big.NewInt(10))
	}
	require.Len(t, f.engine.Orders(), 2*perSide)

	done := make(chan struct{})
	torn := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			orders := len(f.engine.Orders())
			if orders != 0 && orders != 2*perSide {
				select {
				case torn <- fmt.Sprintf("%d live orders", orders):
				default:
				}
			}
		}
	}()

	_, err := f.engine.MatchTrade(addr3, ids, qtys)
	close(done)
	wg.Wait()
	require.NoError(t, err)

	select {
	case msg := <-torn:
		t.Fatalf("read a partly settled chain: %s", msg)
	default:
	}
	assert.Empty(t, f.engine.Orders())
	assert.Equal(t, int64(10*perSide), f.balance(addr1, weth))
	assert.Equal(t, int64(10*perSide), f.balance(addr2, bnb))
}
