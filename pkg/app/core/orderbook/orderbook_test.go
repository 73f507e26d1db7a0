package orderbook

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

	bnb  = core.HexToToken("0x00000000000000000000000000000000000000B1")
	weth = core.HexToToken("0x00000000000000000000000000000000000000E1")
)

func place(t *testing.T, ob *OrderBook, owner common.Address, qty int64) uint64 {
	t.Helper()
	id := ob.NextID()
	require.NoError(t, ob.Insert(&Order{
		ID:         id,
		Owner:      owner,
		Kind:       core.Limit,
		Price:      core.ScaledInt(2),
		Quantity:   big.NewInt(qty),
		TokenPair0: bnb,
		TokenPair1: weth,
	}))
	return id
}

func ids(orders []*Order) []uint64 {
	out := make([]uint64, len(orders))
	for i, o := range orders {
		out[i] = o.ID
	}
	return out
}

func TestIDsAreMonotonicAndNeverReused(t *testing.T) {
	ob := New()
	a := place(t, ob, alice, 5)
	b := place(t, ob, bob, 5)
	assert.Equal(t, uint64(1), a)
	assert.Equal(t, uint64(2), b)

	_, err := ob.Cancel(b, bob)
	require.NoError(t, err)

	c := place(t, ob, bob, 5)
	assert.Equal(t, uint64(3), c, "cancelled ids are not handed out again")
}

func TestInsertRejectsBadOrders(t *testing.T) {
	ob := New()
	id := ob.NextID()

	err := ob.Insert(&Order{ID: id, Owner: alice, Price: big.NewInt(1), Quantity: big.NewInt(0)})
	assert.ErrorIs(t, err, core.ErrInvalidOrder)

	err = ob.Insert(&Order{ID: id + 5, Owner: alice, Price: big.NewInt(1), Quantity: big.NewInt(1)})
	assert.ErrorIs(t, err, core.ErrInvalidOrder, "unallocated id")

	require.NoError(t, ob.Insert(&Order{ID: id, Owner: alice, Price: big.NewInt(1), Quantity: big.NewInt(1)}))
	err = ob.Insert(&Order{ID: id, Owner: alice, Price: big.NewInt(1), Quantity: big.NewInt(1)})
	assert.ErrorIs(t, err, core.ErrInvalidOrder, "duplicate id")
}

func TestReducePartialThenFull(t *testing.T) {
	ob := New()
	id := place(t, ob, alice, 10)

	left, err := ob.Reduce(id, big.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, int64(6), left.Int64())

	o, err := ob.Get(id)
	require.NoError(t, err)
	assert.Equal(t, int64(6), o.Quantity.Int64())

	_, err = ob.Reduce(id, big.NewInt(7))
	assert.ErrorIs(t, err, core.ErrInsufficientOrderQuantity)

	left, err = ob.Reduce(id, big.NewInt(6))
	require.NoError(t, err)
	assert.Zero(t, left.Sign())

	_, err = ob.Get(id)
	assert.ErrorIs(t, err, core.ErrOrderNotFound, "exhausted orders leave the book")
	assert.Equal(t, 0, ob.Len())
}

func TestCancelChecksOwner(t *testing.T) {
	ob := New()
	id := place(t, ob, alice, 10)
	_, err := ob.Reduce(id, big.NewInt(3))
	require.NoError(t, err)

	_, err = ob.Cancel(id, bob)
	assert.ErrorIs(t, err, core.ErrNotOwner)

	removed, err := ob.Cancel(id, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(7), removed.Quantity.Int64(), "refund is the remaining escrow")

	_, err = ob.Cancel(id, alice)
	assert.ErrorIs(t, err, core.ErrOrderNotFound)
}

func TestListingsAreOrderedSnapshots(t *testing.T) {
	ob := New()
	a1 := place(t, ob, alice, 1)
	b1 := place(t, ob, bob, 1)
	a2 := place(t, ob, alice, 1)

	assert.Equal(t, []uint64{a1, b1, a2}, ids(ob.ListAll()))
	assert.Equal(t, []uint64{a1, a2}, ids(ob.ListByOwner(alice)))
	assert.Empty(t, ob.ListByOwner(common.Address{}))

	_, err := ob.Cancel(b1, bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{a1, a2}, ids(ob.ListAll()))

	// Mutating a listed copy does not reach into the book.
	listed := ob.ListAll()
	listed[0].Quantity.SetInt64(99)
	o, err := ob.Get(a1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Quantity.Int64())
}

func TestSnapshotRestore(t *testing.T) {
	ob := New()
	place(t, ob, alice, 3)
	gone := place(t, ob, bob, 4)
	place(t, ob, bob, 5)
	_, err := ob.Cancel(gone, bob)
	require.NoError(t, err)

	snap := ob.Snapshot()
	restored := New()
	require.NoError(t, restored.Restore(snap))

	assert.Equal(t, snap, restored.Snapshot())
	assert.Equal(t, uint64(4), restored.NextID(), "id counter survives restore")
}
