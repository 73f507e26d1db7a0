package mempool

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxType classifies transactions into proposal buckets.
type TxType int

const (
	TxNonOrder TxType = iota // approve, liquidity, faucet
	TxCancel
	TxOrder
	TxMatch

	numTxTypes
)

var (
	ErrFull      = errors.New("mempool full")
	ErrDuplicate = errors.New("transaction already pending")
)

// ClassifyRaw classifies a raw transaction by its JSON envelope:
//
//	{"type": "approve"|"liquidity"|"faucet"} -> TxNonOrder
//	{"type": "cancel"}                       -> TxCancel
//	{"type": "match"}                        -> TxMatch
//	anything else                            -> TxOrder
//
// Malformed bytes land in the order bucket; block execution rejects them.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var txEnvelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &txEnvelope); err != nil {
		return TxOrder
	}

	switch txEnvelope.Type {
	case "approve", "liquidity", "faucet":
		return TxNonOrder
	case "cancel":
		return TxCancel
	case "match":
		return TxMatch
	default:
		return TxOrder
	}
}

// Mempool keeps one FIFO queue per TxType and drains them in TxType order.
// Balances and approvals land before the orders that need them, and
// cancels win over matches in the same block.
type Mempool struct {
	mu      sync.Mutex
	maxTxs  int
	pending map[common.Hash]struct{}
	queues  [numTxTypes][][]byte
}

// NewMempool creates a mempool holding at most maxTxs transactions
// (0 means unbounded).
func NewMempool(maxTxs int) *Mempool {
	return &Mempool{maxTxs: maxTxs, pending: make(map[common.Hash]struct{})}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) error {
	tx := bytes.Clone(b)
	id := crypto.Keccak256Hash(tx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.pending[id]; dup {
		return ErrDuplicate
	}
	if m.maxTxs > 0 && len(m.pending) >= m.maxTxs {
		return ErrFull
	}
	m.pending[id] = struct{}{}
	kind := ClassifyRaw(tx)
	m.queues[kind] = append(m.queues[kind], tx)
	return nil
}

// SelectForProposal removes and returns txs in bucket order until maxBytes
// would be exceeded (0 means no limit). A tx that does not fit closes its
// own bucket only; later buckets may still contribute smaller txs.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		out  [][]byte
		size int64
	)
	for kind := range m.queues {
		q := m.queues[kind]
		taken := 0
		for _, tx := range q {
			if maxBytes > 0 && size+int64(len(tx)) > maxBytes {
				break
			}
			size += int64(len(tx))
			out = append(out, tx)
			delete(m.pending, crypto.Keccak256Hash(tx))
			taken++
		}
		m.queues[kind] = q[taken:]
	}
	return out
}

// Len returns the number of pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
