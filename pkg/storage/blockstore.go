package storage

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

// InMemoryBlockStore keeps commits in memory. Used by tests and by nodes
// started without a data directory.
type InMemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[int64]abci.Block
	txs    map[common.Hash]TxRecord
	head   int64
	state  []byte
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks: make(map[int64]abci.Block),
		txs:    make(map[common.Hash]TxRecord),
	}
}

func (s *InMemoryBlockStore) Commit(c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) > 0 && c.Block.Height != s.head+1 {
		return fmt.Errorf("%w: head %d, got %d", ErrHeightOrder, s.head, c.Block.Height)
	}
	s.blocks[c.Block.Height] = c.Block
	for i, r := range c.Results {
		s.txs[r.Hash] = TxRecord{Height: c.Block.Height, Index: i, Result: r}
	}
	s.head = c.Block.Height
	s.state = append([]byte(nil), c.State...)
	return nil
}

func (s *InMemoryBlockStore) Latest() (abci.Block, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.blocks) == 0 {
		return abci.Block{}, nil, false, nil
	}
	return s.blocks[s.head], append([]byte(nil), s.state...), true, nil
}

func (s *InMemoryBlockStore) Block(height int64) (abci.Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *InMemoryBlockStore) RecentBlocks(limit int) ([]abci.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []abci.Block
	for h := s.head; h > 0 && len(out) < limit; h-- {
		if b, ok := s.blocks[h]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *InMemoryBlockStore) Tx(hash common.Hash) (TxRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.txs[hash]
	return r, ok, nil
}

func (s *InMemoryBlockStore) Close() error { return nil }

var _ Store = (*InMemoryBlockStore)(nil)
