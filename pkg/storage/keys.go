package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

// Key schema:
//
//	blk:<8-byte height>  → Block (gob)
//	tx:<32-byte hash>    → TxRecord (JSON)
//	head                 → height of the latest committed block
//	state                → encoded application state at head
const (
	prefixBlock = "blk:"
	prefixTx    = "tx:"
)

var (
	keyHead  = []byte("head")
	keyState = []byte("state")
)

func heightBytes(h int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(h))
	return k[:]
}

func parseHeight(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("head record is %d bytes, want 8", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

// blockKey returns the key for a block. Heights are big-endian so blocks
// iterate in height order.
func blockKey(h int64) []byte {
	return append([]byte(prefixBlock), heightBytes(h)...)
}

func txKey(hash common.Hash) []byte {
	return append([]byte(prefixTx), hash[:]...)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// Blocks are stored gob encoded; tx records stay JSON so tools can read them.
func marshalBlock(blk abci.Block) ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(blk)
	return buf.Bytes(), err
}

func unmarshalBlock(raw []byte) (abci.Block, error) {
	var blk abci.Block
	err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&blk)
	return blk, err
}
