package orderbook

import (
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

// Order is a resting order. Quantity is the amount of TokenPair0 still held
// in escrow for it; Price is TokenPair1 per TokenPair0, scaled by SCALE.
type Order struct {
	ID         uint64         `json:"id"`
	Owner      common.Address `json:"owner"`
	Kind       core.OrderKind `json:"kind"`
	Price      *big.Int       `json:"price"`
	Quantity   *big.Int       `json:"quantity"`
	TokenPair0 core.Token     `json:"tokenPair0"`
	TokenPair1 core.Token     `json:"tokenPair1"`
}

// Clone returns a deep copy so callers never alias book state.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Price = new(big.Int).Set(o.Price)
	cp.Quantity = new(big.Int).Set(o.Quantity)
	return &cp
}

// OrderBook holds live orders keyed by id.
//
// Ids are allocated by the book and never reused, so the insertion order
// and ascending id order are the same thing.
type OrderBook struct {
	mu sync.RWMutex

	orders  map[uint64]*Order
	ids     []uint64 // ascending
	byOwner map[common.Address]map[uint64]struct{}

	nextID uint64 // last allocated id; 0 means none yet
}

// New creates an empty book whose first id will be 1.
func New() *OrderBook {
	return &OrderBook{
		orders:  make(map[uint64]*Order),
		byOwner: make(map[common.Address]map[uint64]struct{}),
	}
}

// NextID allocates a fresh order id.
func (ob *OrderBook) NextID() uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.nextID++
	return ob.nextID
}

// LastID returns the most recently allocated id.
func (ob *OrderBook) LastID() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.nextID
}

// Insert adds an order under an id previously returned by NextID.
func (ob *OrderBook) Insert(o *Order) error {
	if o == nil || !core.IsPositive(o.Quantity) {
		return fmt.Errorf("%w: resting order needs a positive quantity", core.ErrInvalidOrder)
	}
	if o.Price == nil || o.Price.Sign() < 0 {
		return fmt.Errorf("%w: negative price", core.ErrInvalidOrder)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	if o.ID == 0 || o.ID > ob.nextID {
		return fmt.Errorf("%w: id %d was never allocated", core.ErrInvalidOrder, o.ID)
	}
	if _, exists := ob.orders[o.ID]; exists {
		return fmt.Errorf("%w: id %d already live", core.ErrInvalidOrder, o.ID)
	}
	if n := len(ob.ids); n > 0 && ob.ids[n-1] > o.ID {
		return fmt.Errorf("%w: id %d is older than live id %d", core.ErrInvalidOrder, o.ID, ob.ids[n-1])
	}

	ob.insertLocked(o.Clone())
	return nil
}

func (ob *OrderBook) insertLocked(o *Order) {
	ob.orders[o.ID] = o
	ob.ids = append(ob.ids, o.ID)
	owned, ok := ob.byOwner[o.Owner]
	if !ok {
		owned = make(map[uint64]struct{})
		ob.byOwner[o.Owner] = owned
	}
	owned[o.ID] = struct{}{}
}

func (ob *OrderBook) removeLocked(id uint64) *Order {
	o, ok := ob.orders[id]
	if !ok {
		return nil
	}
	delete(ob.orders, id)

	i := sort.Search(len(ob.ids), func(i int) bool { return ob.ids[i] >= id })
	if i < len(ob.ids) && ob.ids[i] == id {
		ob.ids = append(ob.ids[:i], ob.ids[i+1:]...)
	}

	if owned := ob.byOwner[o.Owner]; owned != nil {
		delete(owned, id)
		if len(owned) == 0 {
			delete(ob.byOwner, o.Owner)
		}
	}
	return o
}

// Get returns a copy of a live order.
func (ob *OrderBook) Get(id uint64) (*Order, error) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	o, ok := ob.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrOrderNotFound, id)
	}
	return o.Clone(), nil
}

// Reduce consumes amount from an order's remaining quantity and removes the
// order when nothing is left. It returns the remaining quantity.
func (ob *OrderBook) Reduce(id uint64, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative reduction", core.ErrAmountTooLow)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrOrderNotFound, id)
	}
	if amount.Cmp(o.Quantity) > 0 {
		return nil, fmt.Errorf("%w: order %d has %s, asked %s", core.ErrInsufficientOrderQuantity, id, o.Quantity, amount)
	}

	left := new(big.Int).Sub(o.Quantity, amount)
	if left.Sign() == 0 {
		ob.removeLocked(id)
		return left, nil
	}
	o.Quantity = left
	return new(big.Int).Set(left), nil
}

// Cancel removes an order on behalf of its owner and returns it. The
// returned quantity is exactly what is still in escrow and must be refunded.
func (ob *OrderBook) Cancel(id uint64, caller common.Address) (*Order, error) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, ok := ob.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrOrderNotFound, id)
	}
	if o.Owner != caller {
		return nil, fmt.Errorf("%w: order %d belongs to %s", core.ErrNotOwner, id, o.Owner.Hex())
	}
	return ob.removeLocked(id), nil
}

// ListAll returns copies of every live order in ascending id order.
func (ob *OrderBook) ListAll() []*Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	out := make([]*Order, 0, len(ob.ids))
	for _, id := range ob.ids {
		out = append(out, ob.orders[id].Clone())
	}
	return out
}

// ListByOwner returns copies of owner's live orders in ascending id order.
func (ob *OrderBook) ListByOwner(owner common.Address) []*Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	owned := ob.byOwner[owner]
	ids := make([]uint64, 0, len(owned))
	for id := range owned {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*Order, 0, len(ids))
	for _, id := range ids {
		out = append(out, ob.orders[id].Clone())
	}
	return out
}

// Len returns the number of live orders.
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.orders)
}

// Snapshot is the persisted form of the book.
type Snapshot struct {
	NextID uint64   `json:"nextId"`
	Orders []*Order `json:"orders"`
}

// Snapshot copies the book.
func (ob *OrderBook) Snapshot() Snapshot {
	orders := ob.ListAll()
	return Snapshot{NextID: ob.LastID(), Orders: orders}
}

// Restore replaces the book with snap.
func (ob *OrderBook) Restore(snap Snapshot) error {
	fresh := New()
	fresh.nextID = snap.NextID

	orders := make([]*Order, len(snap.Orders))
	copy(orders, snap.Orders)
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
	for _, o := range orders {
		if err := fresh.Insert(o); err != nil {
			return fmt.Errorf("restore order %d: %w", o.ID, err)
		}
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.orders = fresh.orders
	ob.ids = fresh.ids
	ob.byOwner = fresh.byOwner
	ob.nextID = fresh.nextID
	return nil
}
