package dex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/messaging"
	"github.com/uhyunpark/hyperswap/pkg/storage"
)

var (
	ErrStaleNonce     = errors.New("nonce already used")
	ErrFaucetDisabled = errors.New("faucet disabled")
	ErrFaucetLimit    = errors.New("faucet amount above limit")
)

// AppConfig tunes the block-executing application.
type AppConfig struct {
	Domain        crypto.EIP712Domain
	MempoolSize   int
	FaucetEnabled bool
	FaucetMax     *big.Int // nil means no cap
}

// App executes blocks of signed transactions against the engine. It is the
// abci.Application driven by the sequencer.
type App struct {
	mu sync.Mutex

	engine    *Engine
	mempool   *mempool.Mempool
	verifier  *transaction.Verifier
	nonces    map[common.Address]uint64
	cfg       AppConfig
	store     storage.Store
	wal       storage.WAL
	publisher messaging.Publisher
	logger    *zap.SugaredLogger

	last    abci.Block
	pending []Event // events of the block being executed

	// OnEvents receives the events of every committed block, in execution order.
	OnEvents func(abci.Block, []Event)
}

// NewApp wires engine to a store and an event publisher. Nil store,
// publisher and logger fall back to in-memory, no-op and no-op.
func NewApp(engine *Engine, store storage.Store, publisher messaging.Publisher, cfg AppConfig, logger *zap.SugaredLogger) *App {
	if store == nil {
		store = storage.NewInMemoryBlockStore()
	}
	if publisher == nil {
		publisher = messaging.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &App{
		engine:    engine,
		mempool:   mempool.NewMempool(cfg.MempoolSize),
		verifier:  transaction.NewVerifier(cfg.Domain),
		nonces:    make(map[common.Address]uint64),
		cfg:       cfg,
		store:     store,
		wal:       storage.NewNopWAL(),
		publisher: publisher,
		logger:    logger,
	}
	engine.OnEvent = func(ev Event) { a.pending = append(a.pending, ev) }
	return a
}

// SetWAL journals every executed transaction to w.
func (a *App) SetWAL(w storage.WAL) { a.wal = w }

func (a *App) Engine() *Engine           { return a.engine }
func (a *App) Store() storage.Store      { return a.store }
func (a *App) Mempool() *mempool.Mempool { return a.mempool }
func (a *App) FaucetEnabled() bool       { return a.cfg.FaucetEnabled }

// LastBlock returns the last committed block (zero before the first).
func (a *App) LastBlock() abci.Block {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Nonce returns the last nonce committed for account.
func (a *App) Nonce(account common.Address) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.nonces[account]
}

// CheckTx parses, authenticates and enqueues a raw signed transaction.
// Nonces are checked against committed state only; ordering among pending
// transactions of one account is settled at execution.
func (a *App) CheckTx(raw []byte) (common.Hash, *transaction.SignedTransaction, error) {
	hash := transaction.Hash(raw)

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return hash, nil, err
	}
	sender, err := a.verifier.Verify(tx)
	if err != nil {
		return hash, tx, err
	}
	if tx.Type == transaction.TxTypeFaucet && !a.cfg.FaucetEnabled {
		return hash, tx, ErrFaucetDisabled
	}
	nonce, err := tx.Nonce()
	if err != nil {
		return hash, tx, err
	}
	if last := a.Nonce(sender); nonce <= last {
		return hash, tx, fmt.Errorf("%w: nonce %d, last %d", ErrStaleNonce, nonce, last)
	}
	if err := a.mempool.PushRaw(raw); err != nil {
		return hash, tx, err
	}
	return hash, tx, nil
}

func (a *App) PrepareProposal(req abci.RequestPrepareProposal) abci.ResponsePrepareProposal {
	return abci.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

func (a *App) ProcessProposal(_ abci.RequestProcessProposal) abci.ResponseProcessProposal {
	return abci.ResponseProcessProposal{Accept: true}
}

// FinalizeBlock applies the block's transactions one at a time, persists the
// resulting state with the block record and publishes the block's events.
// A failing transaction is recorded in its result and changes nothing but
// its sender's nonce.
func (a *App) FinalizeBlock(req abci.RequestFinalizeBlock) abci.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = a.pending[:0]
	results := make([]abci.TxResult, 0, len(req.Txs))
	for _, raw := range req.Txs {
		results = append(results, a.applyTx(raw))
	}

	appHash, state, err := a.commitStateLocked(req.Height)
	if err != nil {
		a.logger.Errorw("state_encode_failed", "height", req.Height, "err", err)
	}

	blk := abci.Block{
		Height:  req.Height,
		Time:    time.Unix(req.Timestamp, 0).UTC(),
		TxCount: len(req.Txs),
		AppHash: appHash,
	}
	if err := a.store.Commit(storage.Commit{Block: blk, State: state, Results: results}); err != nil {
		a.logger.Errorw("block_persist_failed", "height", req.Height, "err", err)
	}
	a.last = blk

	if err := a.wal.Append(blk.Height, results); err != nil {
		a.logger.Warnw("wal_append_failed", "height", blk.Height, "err", err)
	}

	events := append([]Event(nil), a.pending...)
	a.publish(blk, events)
	if a.OnEvents != nil && len(events) > 0 {
		a.OnEvents(blk, events)
	}

	return abci.ResponseFinalizeBlock{Results: results, AppHash: appHash}
}

func (a *App) publish(blk abci.Block, events []Event) {
	if len(events) == 0 {
		return
	}
	msgs := make([]messaging.Message, 0, len(events))
	for _, ev := range events {
		val, err := ev.Encode()
		if err != nil {
			a.logger.Warnw("event_encode_failed", "type", ev.Type, "err", err)
			continue
		}
		msgs = append(msgs, messaging.Message{Type: string(ev.Type), Key: []byte(ev.Key()), Value: val, Time: blk.Time})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.publisher.Publish(ctx, msgs...); err != nil {
		a.logger.Warnw("event_publish_failed", "height", blk.Height, "events", len(msgs), "err", err)
	}
}

// NonceEntry is one persisted account nonce.
type NonceEntry struct {
	Account common.Address `json:"account"`
	Nonce   uint64         `json:"nonce"`
}

// AppState is what the store keeps per block.
type AppState struct {
	Engine Snapshot     `json:"engine"`
	Nonces []NonceEntry `json:"nonces"`
}

func (a *App) noncesLocked() []NonceEntry {
	out := make([]NonceEntry, 0, len(a.nonces))
	for acc, n := range a.nonces {
		out = append(out, NonceEntry{Account: acc, Nonce: n})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Account[:], out[j].Account[:]) < 0 })
	return out
}

// commitStateLocked returns the app hash for height and the encoded state.
// The app hash folds the account nonces into the engine's state hash.
func (a *App) commitStateLocked(height int64) (common.Hash, []byte, error) {
	engineHash, err := a.engine.StateHash(height)
	if err != nil {
		return common.Hash{}, nil, err
	}
	st := AppState{Engine: a.engine.Snapshot(), Nonces: a.noncesLocked()}
	nonces, err := json.Marshal(st.Nonces)
	if err != nil {
		return common.Hash{}, nil, err
	}
	state, err := json.Marshal(st)
	if err != nil {
		return common.Hash{}, nil, err
	}
	return ethcrypto.Keccak256Hash(engineHash[:], nonces), state, nil
}

// Load restores the latest committed state from the store. It reports false
// on a fresh store.
func (a *App) Load() (abci.Block, bool, error) {
	blk, raw, ok, err := a.store.Latest()
	if err != nil || !ok {
		return abci.Block{}, false, err
	}

	var st AppState
	if err := json.Unmarshal(raw, &st); err != nil {
		return abci.Block{}, false, fmt.Errorf("decode state at height %d: %w", blk.Height, err)
	}
	if err := a.engine.Restore(st.Engine); err != nil {
		return abci.Block{}, false, fmt.Errorf("restore engine at height %d: %w", blk.Height, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nonces = make(map[common.Address]uint64, len(st.Nonces))
	for _, n := range st.Nonces {
		a.nonces[n.Account] = n.Nonce
	}
	a.last = blk

	a.logger.Infow("state_loaded", "height", blk.Height, "app_hash", blk.AppHash.Hex(),
		"orders", len(st.Engine.Book.Orders), "pools", len(st.Engine.Pools))
	return blk, true, nil
}
