package storage

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

// ErrHeightOrder is returned when a commit does not extend the chain head.
var ErrHeightOrder = errors.New("commit height must follow head")

// Commit is everything written for one block: the block record, the
// encoded application state after it and its transaction results.
type Commit struct {
	Block   abci.Block
	State   []byte
	Results []abci.TxResult
}

// TxRecord locates a transaction result on chain.
type TxRecord struct {
	Height int64         `json:"height"`
	Index  int           `json:"index"`
	Result abci.TxResult `json:"result"`
}

// Store persists committed blocks. Commit is atomic: after a crash either
// the whole block is visible or none of it is.
type Store interface {
	Commit(c Commit) error
	// Latest returns the head block and the state stored with it.
	Latest() (abci.Block, []byte, bool, error)
	Block(height int64) (abci.Block, bool, error)
	// RecentBlocks returns up to limit blocks, newest first.
	RecentBlocks(limit int) ([]abci.Block, error)
	Tx(hash common.Hash) (TxRecord, bool, error)
	Close() error
}
