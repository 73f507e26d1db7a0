package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
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
	bnb     = core.HexToToken("0x00000000000000000000000000000000000000B1")
	weth    = core.HexToToken("0x00000000000000000000000000000000000000E1")
	custody = common.HexToAddress("0xC0C0000000000000000000000000000000000000")
	lp      = common.HexToAddress("0x5500000000000000000000000000000000000000")
)

type testNode struct {
	t        *testing.T
	app      *dex.App
	server   *Server
	handler  http.Handler
	verifier *transaction.Verifier
	height   int64
}

func newTestNode(t *testing.T, cfg Config) *testNode {
	t.Helper()
	l := ledger.New()
	require.NoError(t, l.RegisterToken("BNB", bnb))
	require.NoError(t, l.RegisterToken("WETH", weth))
	engine := dex.NewEngine(l, custody, nil)

	_, err := engine.RegisterPair(bnb, weth)
	require.NoError(t, err)
	require.NoError(t, l.Mint(lp, bnb, big.NewInt(100)))
	require.NoError(t, l.Mint(lp, weth, big.NewInt(200)))
	require.NoError(t, l.Approve(lp, custody, bnb, big.NewInt(100)))
	require.NoError(t, l.Approve(lp, custody, weth, big.NewInt(200)))
	require.NoError(t, engine.AddLiquidity(lp, bnb, big.NewInt(100), weth, big.NewInt(200)))

	domain := crypto.DefaultDomain()
	app := dex.NewApp(engine, nil, nil, dex.AppConfig{Domain: domain, FaucetEnabled: true}, nil)
	s := NewServer(app, cfg, nil)
	return &testNode{t: t, app: app, server: s, handler: s.Handler(), verifier: transaction.NewVerifier(domain)}
}

func (n *testNode) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	n.handler.ServeHTTP(rec, req)
	return rec
}

func (n *testNode) get(path string, out any) int {
	n.t.Helper()
	rec := n.do(http.MethodGet, path, nil)
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(n.t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec.Code
}

func (n *testNode) faucetTx(signer *crypto.Signer, nonce uint64, amount int64) []byte {
	n.t.Helper()
	tx := &transaction.SignedTransaction{Type: transaction.TxTypeFaucet, Faucet: &transaction.FaucetPayload{
		Token:  bnb.Hex(),
		Amount: strconv.FormatInt(amount, 10),
		Nonce:  strconv.FormatUint(nonce, 10),
		Owner:  signer.Address().Hex(),
	}}
	require.NoError(n.t, n.verifier.Sign(signer, tx))
	raw, err := tx.Serialize()
	require.NoError(n.t, err)
	return raw
}

func (n *testNode) commit() abci.ResponseFinalizeBlock {
	n.height++
	txs := n.app.PrepareProposal(abci.RequestPrepareProposal{Height: n.height}).Txs
	return n.app.FinalizeBlock(abci.RequestFinalizeBlock{Height: n.height, Timestamp: 1_700_000_000, Txs: txs})
}

func TestHealth(t *testing.T) {
	n := newTestNode(t, Config{})
	rec := n.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTokensAndPools(t *testing.T) {
	n := newTestNode(t, Config{})

	var tokens []TokenInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/tokens", &tokens))
	assert.Equal(t, []TokenInfo{{"BNB", bnb.Hex()}, {"WETH", weth.Hex()}}, tokens)

	var pools []PoolInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/pools", &pools))
	require.Len(t, pools, 1)
	assert.Equal(t, "100", pools[0].Reserve0)
	assert.Equal(t, "200", pools[0].Reserve1)
	require.NotNil(t, pools[0].Price01)
	assert.Equal(t, "2", pools[0].Price01.Decimal)
	assert.Equal(t, "0.5", pools[0].Price10.Decimal)

	var p PoolInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/pools/WETH/BNB", &p))
	assert.Equal(t, pools[0].Address, p.Address)
}

func TestSpotPrice(t *testing.T) {
	n := newTestNode(t, Config{})

	var sp SpotPriceInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/pools/BNB/WETH/price", &sp))
	assert.Equal(t, "2", sp.Price.Decimal)
	assert.Equal(t, core.ScaledInt(2).String(), sp.Price.Raw)

	require.Equal(t, http.StatusOK, n.get("/api/v1/pools/"+weth.Hex()+"/bnb/price", &sp))
	assert.Equal(t, "0.5", sp.Price.Decimal)

	rec := n.do(http.MethodGet, "/api/v1/pools/BNB/DOGE/price", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "UnknownToken", e.Tag)
}

func TestOrdersAndBalances(t *testing.T) {
	n := newTestNode(t, Config{})
	owner := common.HexToAddress("0xA1")
	l := n.app.Engine().Ledger()
	require.NoError(t, l.Mint(owner, bnb, big.NewInt(10)))
	require.NoError(t, l.Approve(owner, custody, bnb, big.NewInt(10)))
	res, err := n.app.Engine().Submit(owner, core.Limit, core.ScaledInt(1), big.NewInt(4), bnb, weth)
	require.NoError(t, err)
	require.False(t, res.Executed)

	var orders []OrderInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/orders", &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, "Limit", orders[0].Kind)
	assert.Equal(t, "1", orders[0].Price.Decimal)
	assert.Equal(t, "4", orders[0].Quantity)

	var one OrderInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/orders/"+strconv.FormatUint(res.OrderID, 10), &one))
	assert.Equal(t, orders[0], one)
	assert.Equal(t, http.StatusNotFound, n.get("/api/v1/orders/999", nil))

	require.Equal(t, http.StatusOK, n.get("/api/v1/accounts/"+owner.Hex()+"/orders", &orders))
	assert.Len(t, orders, 1)

	var bal AccountBalances
	require.Equal(t, http.StatusOK, n.get("/api/v1/accounts/"+owner.Hex()+"/balances", &bal))
	require.Len(t, bal.Balances, 2)
	assert.Equal(t, BalanceInfo{Token: bnb.Hex(), Symbol: "BNB", Balance: "6", Allowance: "6"}, bal.Balances[0])

	assert.Equal(t, http.StatusBadRequest, n.get("/api/v1/accounts/nope/balances", nil))
}

func TestSubmitAndQueryTx(t *testing.T) {
	n := newTestNode(t, Config{})
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	raw := n.faucetTx(signer, 1, 50)
	rec := n.do(http.MethodPost, "/api/v1/faucet", raw)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var sub SubmitTxResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, "submitted", sub.Status)
	assert.Equal(t, transaction.Hash(raw).Hex(), sub.TxHash)

	// Same bytes again are still pending.
	assert.Equal(t, http.StatusConflict, n.do(http.MethodPost, "/api/v1/faucet", raw).Code)
	// Right tx, wrong endpoint.
	assert.Equal(t, http.StatusBadRequest, n.do(http.MethodPost, "/api/v1/orders", n.faucetTx(signer, 2, 1)).Code)
	assert.Equal(t, http.StatusBadRequest, n.do(http.MethodPost, "/api/v1/orders", []byte(`{"type":`)).Code)

	var status ChainStatus
	require.Equal(t, http.StatusOK, n.get("/api/v1/chain/status", &status))
	assert.Equal(t, 1, status.MempoolSize)
	assert.Equal(t, int64(0), status.Height)

	resp := n.commit()
	require.Len(t, resp.Results, 1)
	require.True(t, resp.Results[0].OK(), resp.Results[0].Error)

	var tx TxInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/txs/"+sub.TxHash, &tx))
	assert.Equal(t, int64(1), tx.Height)
	assert.Equal(t, "faucet", tx.Type)
	assert.Equal(t, abci.CodeOK, tx.Code)
	assert.Equal(t, http.StatusNotFound, n.get("/api/v1/txs/"+common.Hash{}.Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, n.get("/api/v1/txs/0x1234", nil))

	// Replaying the committed nonce is refused up front.
	assert.Equal(t, http.StatusConflict, n.do(http.MethodPost, "/api/v1/faucet", n.faucetTx(signer, 1, 7)).Code)

	require.Equal(t, http.StatusOK, n.get("/api/v1/chain/status", &status))
	assert.Equal(t, int64(1), status.Height)
	assert.Equal(t, int64(1_700_000_000), status.BlockTime)

	var blocks []BlockInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/blocks?limit=5", &blocks))
	require.Len(t, blocks, 1)
	assert.Equal(t, 1, blocks[0].TxCount)
	assert.Equal(t, status.AppHash, blocks[0].AppHash)

	var blk BlockInfo
	require.Equal(t, http.StatusOK, n.get("/api/v1/blocks/1", &blk))
	assert.Equal(t, blocks[0], blk)
	assert.Equal(t, http.StatusNotFound, n.get("/api/v1/blocks/9", nil))
	assert.Equal(t, http.StatusBadRequest, n.get("/api/v1/blocks?limit=0", nil))
}

func TestSubmitRejectsForeignSignature(t *testing.T) {
	n := newTestNode(t, Config{})
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)
	other, err := crypto.GenerateKey()
	require.NoError(t, err)

	var tx transaction.SignedTransaction
	require.NoError(t, json.Unmarshal(n.faucetTx(signer, 1, 5), &tx))
	tx.Faucet.Owner = other.Address().Hex()
	raw, err := tx.Serialize()
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, n.do(http.MethodPost, "/api/v1/faucet", raw).Code)
	assert.Equal(t, 0, n.app.Mempool().Len())
}

func TestSubmitRateLimited(t *testing.T) {
	n := newTestNode(t, Config{RateLimit: 0.001, RateBurst: 1})
	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, n.do(http.MethodPost, "/api/v1/faucet", n.faucetTx(signer, 1, 1)).Code)
	assert.Equal(t, http.StatusTooManyRequests, n.do(http.MethodPost, "/api/v1/faucet", n.faucetTx(signer, 2, 1)).Code)
	// Reads are not limited.
	assert.Equal(t, http.StatusOK, n.do(http.MethodGet, "/api/v1/tokens", nil).Code)
}

func TestWebSocketChannels(t *testing.T) {
	n := newTestNode(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.server.Hub().Run(ctx)

	srv := httptest.NewServer(n.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	owner := common.HexToAddress("0xA1")
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{
		ChannelBlocks, ChannelOrders, "pools:BNB-WETH", "account:" + owner.Hex(),
	}}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "subscribe", ack["op"])

	blk := abci.Block{Height: 3, Time: time.Unix(1_700_000_000, 0)}
	n.server.PublishBlock(blk, abci.ResponseFinalizeBlock{})
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ChannelBlocks, msg.Channel)
	assert.Equal(t, int64(3), msg.Height)

	n.server.PublishEvents(blk, []dex.Event{
		{Type: dex.EventOrderCreated, Data: &dex.OrderCreated{Order: dex.OrderView{ID: 7, Owner: owner}}},
		{Type: dex.EventPriceChanged, Data: &dex.PriceChanged{Token0: bnb, Token1: weth}},
	})

	got := map[string]string{}
	for i := 0; i < 3; i++ {
		require.NoError(t, conn.ReadJSON(&msg))
		got[msg.Channel] = msg.Type
	}
	assert.Equal(t, map[string]string{
		ChannelOrders:         "OrderCreated",
		AccountChannel(owner): "OrderCreated",
		"pools:BNB-WETH":      "PriceChanged",
	}, got)
}

func TestWebSocketUnsubscribeAndDisconnect(t *testing.T) {
	n := newTestNode(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := n.server.Hub()
	go hub.Run(ctx)

	srv := httptest.NewServer(n.handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	owner := common.HexToAddress("0xA1")
	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "subscribe", Channels: []string{
		ChannelTrades, "account:" + strings.ToUpper(owner.Hex()[2:]),
	}}))
	var ack map[string]any
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, 1, hub.Subscribers(ChannelTrades))

	require.NoError(t, conn.WriteJSON(WSSubscribeRequest{Op: "unsubscribe", Channels: []string{ChannelTrades}}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.Equal(t, "unsubscribe", ack["op"])
	assert.Zero(t, hub.Subscribers(ChannelTrades))

	require.NoError(t, conn.WriteJSON(map[string]string{"op": "shout"}))
	var failure map[string]string
	require.NoError(t, conn.ReadJSON(&failure))
	assert.Equal(t, "unknown op: shout", failure["error"])

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
