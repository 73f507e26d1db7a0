package abci

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix timestamp in seconds
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	Results []TxResult
	AppHash common.Hash // Hash of application state after execution
}

// Result codes for executed transactions.
const (
	CodeOK           uint32 = 0
	CodeMalformed    uint32 = 1 // undecodable or structurally invalid
	CodeUnauthorized uint32 = 2 // bad signature
	CodeBadNonce     uint32 = 3 // replay or out-of-order nonce
	CodeRejected     uint32 = 4 // engine refused the operation
	CodeDisabled     uint32 = 5 // operation switched off on this node
)

// TxResult records the outcome of one transaction in a block.
// Tag carries the engine error tag (e.g. "LimitPriceNotMet") when Code is CodeRejected.
type TxResult struct {
	Hash  common.Hash `json:"hash"`
	Type  string      `json:"type,omitempty"`
	Code  uint32      `json:"code"`
	Tag   string      `json:"tag,omitempty"`
	Error string      `json:"error,omitempty"`
}

// OK reports whether the transaction was applied.
func (r TxResult) OK() bool { return r.Code == CodeOK }

// Block is the committed record of one sequenced block.
type Block struct {
	Height  int64       `json:"height"`
	Time    time.Time   `json:"time"`
	TxCount int         `json:"txCount"`
	AppHash common.Hash `json:"appHash"`
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}
