package p2p

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
)

func init() {
	gob.Register(TxWire{})
	gob.Register(BlockWire{})
}

type TxWire struct {
	Raw []byte // JSON-encoded signed transaction
}

// BlockWire announces a committed block. It carries the header only; peers
// use it to track the sequencer head.
type BlockWire struct {
	Height  int64
	Time    time.Time
	TxCount int
	AppHash common.Hash
}

func blockWire(b abci.Block) BlockWire {
	return BlockWire{Height: b.Height, Time: b.Time, TxCount: b.TxCount, AppHash: b.AppHash}
}

func (w BlockWire) Block() abci.Block {
	return abci.Block{Height: w.Height, Time: w.Time, TxCount: w.TxCount, AppHash: w.AppHash}
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
