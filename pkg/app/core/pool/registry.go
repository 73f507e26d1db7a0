package pool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
)

type pairKey struct {
	token0 core.Token
	token1 core.Token
}

func keyOf(a, b core.Token) pairKey {
	t0, t1 := SortTokens(a, b)
	return pairKey{t0, t1}
}

// Registry maps unordered token pairs to their pool.
// At most one pool exists per pair.
type Registry struct {
	mu    sync.RWMutex
	pools map[pairKey]*Pool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[pairKey]*Pool)}
}

// RegisterPair creates a zero-reserve pool for (a, b).
// Fails if the pair (in either order) already has one.
func (r *Registry) RegisterPair(a, b core.Token) (*Pool, error) {
	p, err := New(a, b)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(a, b)
	if _, exists := r.pools[k]; exists {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrPairAlreadyRegistered, k.token0.Hex(), k.token1.Hex())
	}
	r.pools[k] = p
	return p, nil
}

// Put installs a pool, replacing any existing one for its pair (restore path).
func (r *Registry) Put(p *Pool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools[keyOf(p.token0, p.token1)] = p
}

// GetPool returns the pool for (a, b) in either order.
func (r *Registry) GetPool(a, b core.Token) (*Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.pools[keyOf(a, b)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", core.ErrLPNotFound, a.Hex(), b.Hex())
	}
	return p, nil
}

// Exists reports whether (a, b) has a pool.
func (r *Registry) Exists(a, b core.Token) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.pools[keyOf(a, b)]
	return ok
}

// List returns all pools ordered by (token0, token1).
func (r *Registry) List() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].token0 != out[j].token0 {
			return out[i].token0.Less(out[j].token0)
		}
		return out[i].token1.Less(out[j].token1)
	})
	return out
}

// Count returns the number of registered pairs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Reset drops every pool.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pools = make(map[pairKey]*Pool)
}
