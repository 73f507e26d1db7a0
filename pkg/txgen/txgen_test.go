package txgen

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	custody = common.HexToAddress("0xC0C0000000000000000000000000000000000000")
	bnb     = core.HexToToken("0x0000000000000000000000000000000000000b0b")
	weth    = core.HexToToken("0x0000000000000000000000000000000000000e7e")
)

type harness struct {
	t      *testing.T
	engine *dex.Engine
	app    *dex.App
	domain crypto.EIP712Domain
	height int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.RegisterToken("BNB", bnb))
	require.NoError(t, l.RegisterToken("WETH", weth))
	engine := dex.NewEngine(l, custody, nil)
	_, err := engine.RegisterPair(bnb, weth)
	require.NoError(t, err)

	domain := crypto.DefaultDomain()
	domain.VerifyingContract = custody
	app := dex.NewApp(engine, nil, nil, dex.AppConfig{Domain: domain, FaucetEnabled: true}, nil)
	return &harness{t: t, engine: engine, app: app, domain: domain}
}

func (h *harness) submitAll(txs [][]byte) {
	h.t.Helper()
	for _, raw := range txs {
		_, _, err := h.app.CheckTx(raw)
		require.NoError(h.t, err)
	}
}

func (h *harness) commit() []abci.TxResult {
	h.height++
	txs := h.app.PrepareProposal(abci.RequestPrepareProposal{Height: h.height}).Txs
	return h.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: h.height, Timestamp: 1_700_000_000, Txs: txs}).Results
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.NumAccounts = 3
	cfg.Pairs = []Pair{{A: bnb, B: weth}}
	cfg.Seed = 42
	return cfg
}

func TestNewGeneratorValidates(t *testing.T) {
	_, err := NewGenerator(crypto.DefaultDomain(), Config{NumAccounts: 1})
	assert.Error(t, err)

	_, err = NewGenerator(crypto.DefaultDomain(), Config{Pairs: []Pair{{A: bnb, B: weth}}})
	assert.Error(t, err)
}

func TestSetupFundsTradersAndSeedsPools(t *testing.T) {
	h := newHarness(t)
	gen, err := NewGenerator(h.domain, testConfig())
	require.NoError(t, err)

	setup, err := gen.Setup()
	require.NoError(t, err)
	// faucet + approve per trader and token, then one deposit per pair
	require.Len(t, setup, 3*2*2+1)

	h.submitAll(setup)
	for _, r := range h.commit() {
		assert.True(t, r.OK(), "%s: %s", r.Type, r.Error)
	}

	r0, r1, err := h.engine.Reserves(bnb, weth)
	require.NoError(t, err)
	assert.Equal(t, core.ScaledInt(100), r0)
	assert.Equal(t, core.ScaledInt(100), r1)

	l := h.engine.Ledger()
	first := gen.Signers()[0].Address()
	assert.Equal(t, core.ScaledInt(900), l.BalanceOf(first, bnb))
	assert.Equal(t, core.ScaledInt(1000), l.BalanceOf(gen.Signers()[2].Address(), weth))
	assert.Equal(t, uint64(5), gen.Nonce(first))
}

func TestGeneratedOrdersExecuteOrRest(t *testing.T) {
	h := newHarness(t)
	gen, err := NewGenerator(h.domain, testConfig())
	require.NoError(t, err)
	setup, err := gen.Setup()
	require.NoError(t, err)
	h.submitAll(setup)
	h.commit()

	var txs [][]byte
	for i := 0; i < 40; i++ {
		raw, err := gen.Order(h.engine.SpotPrice)
		require.NoError(t, err)
		txs = append(txs, raw)
	}
	h.submitAll(txs)

	ok := 0
	for _, r := range h.commit() {
		// Orders are well formed, signed and in nonce order; only the
		// engine may turn them down.
		assert.Contains(t, []uint32{abci.CodeOK, abci.CodeRejected}, r.Code, r.Error)
		if r.OK() {
			ok++
		}
	}
	assert.Positive(t, ok)
}

func TestCancelTargetsOwnOrders(t *testing.T) {
	h := newHarness(t)
	gen, err := NewGenerator(h.domain, testConfig())
	require.NoError(t, err)

	owner := gen.Signers()[1].Address()
	raw, err := gen.Cancel(owner, 7)
	require.NoError(t, err)

	tx, err := transaction.ParseTransaction(raw)
	require.NoError(t, err)
	assert.Equal(t, transaction.TxTypeCancel, tx.Type)
	assert.Equal(t, "7", tx.Cancel.OrderID)
	assert.Equal(t, owner.Hex(), tx.Cancel.Owner)

	sender, err := transaction.NewVerifier(h.domain).Verify(tx)
	require.NoError(t, err)
	assert.Equal(t, owner, sender)

	_, err = gen.Cancel(common.HexToAddress("0x1234"), 7)
	assert.Error(t, err)
}

type countingSubmitter struct {
	mu  sync.Mutex
	txs [][]byte
}

func (c *countingSubmitter) CheckTx(raw []byte) (common.Hash, *transaction.SignedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txs = append(c.txs, raw)
	return transaction.Hash(raw), nil, nil
}

func TestFeederRunsUntilCancelled(t *testing.T) {
	h := newHarness(t)
	cfg := testConfig()
	cfg.TxPerSecond = 1000
	cfg.Burst = 50
	gen, err := NewGenerator(h.domain, cfg)
	require.NoError(t, err)

	sub := &countingSubmitter{}
	feeder := NewFeeder(gen, sub, h.engine, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = feeder.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	submitted, refused := feeder.Stats()
	assert.Zero(t, refused)
	assert.Greater(t, submitted, uint64(13), "setup plus generated orders")

	sub.mu.Lock()
	defer sub.mu.Unlock()
	assert.Len(t, sub.txs, int(submitted))
}
