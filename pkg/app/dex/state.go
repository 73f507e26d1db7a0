package dex

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperswap/pkg/app/core/pool"
)

// Snapshot is the complete engine state: balances, pools and the book.
type Snapshot struct {
	Custody common.Address     `json:"custody"`
	Ledger  ledger.Snapshot    `json:"ledger"`
	Pools   []pool.State       `json:"pools"`
	Book    orderbook.Snapshot `json:"book"`
}

// Snapshot copies the engine state. Entries are in canonical order so equal
// states encode to equal bytes.
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pools := e.pools.List()
	states := make([]pool.State, 0, len(pools))
	for _, p := range pools {
		states = append(states, p.State())
	}
	return Snapshot{
		Custody: e.custody,
		Ledger:  e.ledger.Snapshot(),
		Pools:   states,
		Book:    e.book.Snapshot(),
	}
}

// Restore replaces the engine state with snap.
func (e *Engine) Restore(snap Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snap.Custody != e.custody {
		return fmt.Errorf("snapshot custody %s does not match engine custody %s", snap.Custody.Hex(), e.custody.Hex())
	}

	pools := make([]*pool.Pool, 0, len(snap.Pools))
	for _, st := range snap.Pools {
		p, err := pool.FromState(st)
		if err != nil {
			return fmt.Errorf("restore pool: %w", err)
		}
		pools = append(pools, p)
	}
	// Dry run first so a bad book never leaves the ledger restored alone.
	if err := orderbook.New().Restore(snap.Book); err != nil {
		return err
	}
	if err := e.ledger.Restore(snap.Ledger); err != nil {
		return err
	}
	if err := e.book.Restore(snap.Book); err != nil {
		return err
	}

	e.pools.Reset()
	for _, p := range pools {
		e.pools.Put(p)
	}
	return nil
}

// StateHash returns Keccak-256 over the block height and the canonical JSON
// encoding of the engine snapshot.
func (e *Engine) StateHash(height int64) ([32]byte, error) {
	var out [32]byte

	data, err := json.Marshal(e.Snapshot())
	if err != nil {
		return out, fmt.Errorf("encode snapshot: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	h.Write(buf[:])
	h.Write(data)
	copy(out[:], h.Sum(nil))
	return out, nil
}
