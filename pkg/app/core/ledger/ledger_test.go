package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	dex   = common.HexToAddress("0xDE00000000000000000000000000000000000000")

	bnb  = core.HexToToken("0x00000000000000000000000000000000000000B1")
	weth = core.HexToToken("0x00000000000000000000000000000000000000E1")
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l := New()
	require.NoError(t, l.RegisterToken("BNB", bnb))
	require.NoError(t, l.RegisterToken("weth", weth))
	return l
}

func TestRegisterAndResolveTokens(t *testing.T) {
	l := newLedger(t)

	tok, err := l.Token("bnb")
	require.NoError(t, err)
	assert.Equal(t, bnb, tok)

	tok, err = l.Token(weth.Hex())
	require.NoError(t, err)
	assert.Equal(t, weth, tok)
	assert.Equal(t, "WETH", l.Symbol(weth))

	_, err = l.Token("DOGE")
	assert.ErrorIs(t, err, core.ErrUnknownToken)

	err = l.RegisterToken("BNB", weth)
	assert.Error(t, err, "symbol rebinding must fail")

	infos := l.Tokens()
	require.Len(t, infos, 2)
	assert.Equal(t, "BNB", infos[0].Symbol)
}

func TestTransferConservesValue(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, bnb, big.NewInt(100)))

	require.NoError(t, l.Transfer(alice, bob, bnb, big.NewInt(40)))
	assert.Equal(t, int64(60), l.BalanceOf(alice, bnb).Int64())
	assert.Equal(t, int64(40), l.BalanceOf(bob, bnb).Int64())
	assert.Equal(t, int64(100), l.TotalSupply(bnb).Int64())

	err := l.Transfer(bob, alice, bnb, big.NewInt(41))
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, int64(40), l.BalanceOf(bob, bnb).Int64())
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, weth, big.NewInt(10)))

	err := l.TransferFrom(dex, alice, dex, weth, big.NewInt(5))
	assert.ErrorIs(t, err, core.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(alice, dex, weth, big.NewInt(7)))
	require.NoError(t, l.TransferFrom(dex, alice, dex, weth, big.NewInt(5)))
	assert.Equal(t, int64(2), l.Allowance(alice, dex, weth).Int64())
	assert.Equal(t, int64(5), l.BalanceOf(dex, weth).Int64())

	err = l.TransferFrom(dex, alice, dex, weth, big.NewInt(3))
	assert.ErrorIs(t, err, core.ErrInsufficientAllowance)
}

func TestBatchIsAllOrNothing(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, bnb, big.NewInt(10)))

	b := l.Begin()
	require.NoError(t, b.Transfer(alice, bob, bnb, big.NewInt(6)))
	assert.Equal(t, int64(4), b.BalanceOf(alice, bnb).Int64(), "batch reads see staged deltas")
	assert.Equal(t, int64(10), l.BalanceOf(alice, bnb).Int64(), "ledger untouched before commit")

	err := b.Transfer(alice, bob, bnb, big.NewInt(5))
	require.ErrorIs(t, err, core.ErrInsufficientBalance)

	// A failed transfer stages nothing and the ledger is still untouched.
	assert.Equal(t, int64(10), l.BalanceOf(alice, bnb).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(bob, bnb).Int64())

	require.NoError(t, b.Commit())
	assert.Equal(t, int64(4), l.BalanceOf(alice, bnb).Int64())
	assert.Equal(t, int64(6), l.BalanceOf(bob, bnb).Int64())
}

func TestBatchCommitDetectsConcurrentDrain(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, bnb, big.NewInt(10)))

	b := l.Begin()
	require.NoError(t, b.Transfer(alice, bob, bnb, big.NewInt(8)))
	require.NoError(t, l.Transfer(alice, dex, bnb, big.NewInt(5)))

	err := b.Commit()
	assert.ErrorIs(t, err, core.ErrInsufficientBalance)
	assert.Equal(t, int64(5), l.BalanceOf(alice, bnb).Int64())
	assert.Equal(t, int64(0), l.BalanceOf(bob, bnb).Int64())
}

func TestSnapshotRestore(t *testing.T) {
	l := newLedger(t)
	require.NoError(t, l.Mint(alice, bnb, big.NewInt(10)))
	require.NoError(t, l.Mint(bob, weth, big.NewInt(3)))
	require.NoError(t, l.Approve(alice, dex, bnb, big.NewInt(9)))

	snap := l.Snapshot()
	require.Len(t, snap.Balances, 2)
	require.Len(t, snap.Allowances, 1)
	assert.Equal(t, alice, snap.Balances[0].Holder, "balances sorted by holder")

	restored := New()
	require.NoError(t, restored.Restore(snap))
	assert.Equal(t, int64(10), restored.BalanceOf(alice, bnb).Int64())
	assert.Equal(t, int64(3), restored.BalanceOf(bob, weth).Int64())
	assert.Equal(t, int64(9), restored.Allowance(alice, dex, bnb).Int64())
	assert.Equal(t, snap, restored.Snapshot())
}
