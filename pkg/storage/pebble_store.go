package storage

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) head() (int64, bool, error) {
	val, closer, err := s.db.Get(keyHead)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get head: %w", err)
	}
	defer closer.Close()
	h, err := parseHeight(val)
	return h, err == nil, err
}

// Commit writes the block, its results, the state and the new head in one
// synced batch.
func (s *PebbleStore) Commit(c Commit) error {
	head, ok, err := s.head()
	if err != nil {
		return err
	}
	if ok && c.Block.Height != head+1 {
		return fmt.Errorf("%w: head %d, got %d", ErrHeightOrder, head, c.Block.Height)
	}

	blk, err := marshalBlock(c.Block)
	if err != nil {
		return fmt.Errorf("encode block: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()

	if err := b.Set(blockKey(c.Block.Height), blk, nil); err != nil {
		return err
	}
	for i, r := range c.Results {
		rec, err := json.Marshal(TxRecord{Height: c.Block.Height, Index: i, Result: r})
		if err != nil {
			return fmt.Errorf("failed to marshal tx record: %w", err)
		}
		if err := b.Set(txKey(r.Hash), rec, nil); err != nil {
			return err
		}
	}
	if err := b.Set(keyState, c.State, nil); err != nil {
		return err
	}
	if err := b.Set(keyHead, heightBytes(c.Block.Height), nil); err != nil {
		return err
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", c.Block.Height, err)
	}
	return nil
}

func (s *PebbleStore) Latest() (abci.Block, []byte, bool, error) {
	h, ok, err := s.head()
	if err != nil || !ok {
		return abci.Block{}, nil, false, err
	}
	blk, ok, err := s.Block(h)
	if err != nil {
		return abci.Block{}, nil, false, err
	}
	if !ok {
		return abci.Block{}, nil, false, fmt.Errorf("head %d has no block record", h)
	}

	val, closer, err := s.db.Get(keyState)
	if err != nil {
		return abci.Block{}, nil, false, fmt.Errorf("failed to get state: %w", err)
	}
	defer closer.Close()
	return blk, append([]byte(nil), val...), true, nil
}

func (s *PebbleStore) Block(height int64) (abci.Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(height))
	if errors.Is(err, pebble.ErrNotFound) {
		return abci.Block{}, false, nil
	}
	if err != nil {
		return abci.Block{}, false, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	defer closer.Close()

	out, err := unmarshalBlock(val)
	if err != nil {
		return abci.Block{}, false, fmt.Errorf("decode block %d: %w", height, err)
	}
	return out, true, nil
}

func (s *PebbleStore) RecentBlocks(limit int) ([]abci.Block, error) {
	prefix := []byte(prefixBlock)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var blocks []abci.Block
	for iter.Last(); iter.Valid() && len(blocks) < limit; iter.Prev() {
		b, err := unmarshalBlock(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (s *PebbleStore) Tx(hash common.Hash) (TxRecord, bool, error) {
	val, closer, err := s.db.Get(txKey(hash))
	if errors.Is(err, pebble.ErrNotFound) {
		return TxRecord{}, false, nil
	}
	if err != nil {
		return TxRecord{}, false, fmt.Errorf("failed to get tx: %w", err)
	}
	defer closer.Close()

	var rec TxRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return TxRecord{}, false, fmt.Errorf("failed to unmarshal tx record: %w", err)
	}
	return rec, true, nil
}

var _ Store = (*PebbleStore)(nil)
