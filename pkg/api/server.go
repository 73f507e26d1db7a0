package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
)

const maxTxBodyBytes = 1 << 20

// Config tunes the HTTP surface.
type Config struct {
	CORSOrigins []string
	RateLimit   float64 // POST requests per second per client IP; 0 disables
	RateBurst   int
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	router  *mux.Router
	hub     *Hub
	cfg     Config
	limiter *ipLimiter
	logger  *zap.SugaredLogger

	// OnTxAccepted receives every transaction the mempool accepted through
	// the API, e.g. to relay it to peers.
	OnTxAccepted func(raw []byte)
}

// NewServer creates a new API server
func NewServer(app *dex.App, cfg Config, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &Server{
		app:     app,
		router:  mux.NewRouter(),
		hub:     NewHub(logger),
		cfg:     cfg,
		limiter: newIPLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.Use(s.requestID)

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Token and pool endpoints
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/pools", s.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{tokenA}/{tokenB}", s.handleGetPool).Methods("GET")
	api.HandleFunc("/pools/{from}/{to}/price", s.handleGetPrice).Methods("GET")

	// Order endpoints
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/orders", s.handleGetAccountOrders).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.handleGetChainStatus).Methods("GET")
	api.HandleFunc("/blocks", s.handleGetBlocks).Methods("GET")
	api.HandleFunc("/blocks/{height:[0-9]+}", s.handleGetBlock).Methods("GET")
	api.HandleFunc("/txs/{hash}", s.handleGetTx).Methods("GET")

	// Signed transaction submission
	post := api.NewRoute().Subrouter()
	post.Use(s.rateLimit)
	post.HandleFunc("/orders", s.submitHandler(transaction.TxTypeOrder)).Methods("POST")
	post.HandleFunc("/orders/cancel", s.submitHandler(transaction.TxTypeCancel)).Methods("POST")
	post.HandleFunc("/trades/match", s.submitHandler(transaction.TxTypeMatch)).Methods("POST")
	post.HandleFunc("/approvals", s.submitHandler(transaction.TxTypeApprove)).Methods("POST")
	post.HandleFunc("/liquidity", s.submitHandler(transaction.TxTypeLiquidity)).Methods("POST")
	post.HandleFunc("/faucet", s.submitHandler(transaction.TxTypeFaucet)).Methods("POST")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.app.Engine().Ledger().Tokens()
	response := make([]TokenInfo, len(tokens))
	for i, t := range tokens {
		response[i] = TokenInfo{Symbol: t.Symbol, Address: t.Token.Hex()}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools := s.app.Engine().Pools()
	response := make([]PoolInfo, len(pools))
	for i, p := range pools {
		response[i] = poolInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	a, b, ok := s.tokenPair(w, r, "tokenA", "tokenB")
	if !ok {
		return
	}
	p, err := s.app.Engine().Pool(a, b)
	if err != nil {
		respondEngineError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, poolInfo(p))
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	from, to, ok := s.tokenPair(w, r, "from", "to")
	if !ok {
		return
	}
	price, err := s.app.Engine().SpotPrice(from, to)
	if err != nil {
		respondEngineError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, SpotPriceInfo{From: from.Hex(), To: to.Hex(), Price: priceInfo(price)})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders := s.app.Engine().Orders()
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.app.Engine().Order(id)
	if err != nil {
		respondEngineError(w, http.StatusNotFound, err)
		return
	}
	respondJSON(w, orderInfo(o))
}

func (s *Server) handleGetAccountOrders(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	orders := s.app.Engine().OrdersByOwner(addr)
	response := make([]OrderInfo, len(orders))
	for i, o := range orders {
		response[i] = orderInfo(o)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	holdings := s.app.Engine().Holdings(addr)
	response := AccountBalances{
		Address:  addr.Hex(),
		Nonce:    s.app.Nonce(addr),
		Balances: make([]BalanceInfo, 0, len(holdings)),
	}
	for _, h := range holdings {
		response.Balances = append(response.Balances, BalanceInfo{
			Token:     h.Token.Hex(),
			Symbol:    h.Symbol,
			Balance:   h.Balance.String(),
			Allowance: h.Allowance.String(),
		})
	}
	respondJSON(w, response)
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	blk := s.app.LastBlock()
	engine := s.app.Engine()
	response := ChainStatus{
		Height:      blk.Height,
		AppHash:     blk.AppHash.Hex(),
		MempoolSize: s.app.Mempool().Len(),
		Orders:      len(engine.Orders()),
		Pools:       len(engine.Pools()),
		Custody:     engine.Custody().Hex(),
		Faucet:      s.app.FaucetEnabled(),
	}
	if !blk.Time.IsZero() {
		response.BlockTime = blk.Time.Unix()
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBlocks(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", "expected 1..1000")
			return
		}
		limit = n
	}
	blocks, err := s.app.Store().RecentBlocks(limit)
	if err != nil {
		s.logger.Errorw("blocks_query_failed", "err", err)
		respondError(w, http.StatusInternalServerError, "store error", "")
		return
	}
	response := make([]BlockInfo, len(blocks))
	for i, b := range blocks {
		response[i] = blockInfo(b)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	h, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, ok, err := s.app.Store().Block(h)
	if err != nil {
		s.logger.Errorw("block_query_failed", "height", h, "err", err)
		respondError(w, http.StatusInternalServerError, "store error", "")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	respondJSON(w, blockInfo(b))
}

func (s *Server) handleGetTx(w http.ResponseWriter, r *http.Request) {
	raw := mux.Vars(r)["hash"]
	b, err := hexBytes(raw)
	if err != nil || len(b) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid tx hash", "")
		return
	}
	rec, ok, err := s.app.Store().Tx(common.BytesToHash(b))
	if err != nil {
		s.logger.Errorw("tx_query_failed", "hash", raw, "err", err)
		respondError(w, http.StatusInternalServerError, "store error", "")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "transaction not found", "")
		return
	}
	respondJSON(w, TxInfo{
		Hash:   rec.Result.Hash.Hex(),
		Height: rec.Height,
		Index:  rec.Index,
		Type:   rec.Result.Type,
		Code:   rec.Result.Code,
		Tag:    rec.Result.Tag,
		Error:  rec.Result.Error,
	})
}

// submitHandler accepts one signed transaction of the given type, checks its
// structure, signature and nonce, and queues it for the next block.
func (s *Server) submitHandler(want transaction.TxType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBodyBytes+1))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
			return
		}
		if len(body) > maxTxBodyBytes {
			respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
			return
		}

		tx, err := transaction.ParseTransaction(body)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid transaction", err.Error())
			return
		}
		if tx.Type != want {
			respondError(w, http.StatusBadRequest, "invalid transaction type", "expected type="+string(want))
			return
		}

		hash, _, err := s.app.CheckTx(body)
		if err != nil {
			status := submitStatus(err)
			s.logger.Debugw("tx_refused", "request_id", requestIDFrom(r), "type", want, "status", status, "err", err)
			respondError(w, status, "transaction refused", err.Error())
			return
		}

		s.logger.Infow("tx_submitted", "request_id", requestIDFrom(r), "type", want, "hash", hash.Hex(), "bytes", len(body))
		if s.OnTxAccepted != nil {
			s.OnTxAccepted(body)
		}
		respondJSONStatus(w, http.StatusAccepted, SubmitTxResponse{Status: "submitted", TxHash: hash.Hex()})
	}
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, dex.ErrStaleNonce), errors.Is(err, mempool.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, dex.ErrFaucetDisabled):
		return http.StatusForbidden
	case errors.Is(err, mempool.ErrFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Broadcast Methods (called from the sequencer)
// ==============================

// PublishBlock pushes a committed block to the "blocks" channel.
func (s *Server) PublishBlock(blk abci.Block, resp abci.ResponseFinalizeBlock) {
	s.hub.BroadcastToChannel(ChannelBlocks, WSMessage{
		Channel: ChannelBlocks,
		Type:    "block",
		Height:  blk.Height,
		Data: map[string]any{
			"block":   blockInfo(blk),
			"results": resp.Results,
		},
	})
}

// PublishEvents fans a block's engine events out to their channels.
func (s *Server) PublishEvents(blk abci.Block, events []dex.Event) {
	for _, ev := range events {
		for _, ch := range s.channelsOf(ev) {
			s.hub.BroadcastToChannel(ch, WSMessage{Channel: ch, Type: string(ev.Type), Height: blk.Height, Data: ev.Data})
		}
	}
}

func (s *Server) channelsOf(ev dex.Event) []string {
	var out []string
	switch ev.Type {
	case dex.EventOrderCreated, dex.EventOrderCancelled:
		out = append(out, ChannelOrders)
	case dex.EventMarketOrderExecuted, dex.EventOrderFilled, dex.EventChainSettled:
		out = append(out, ChannelTrades)
	case dex.EventPriceChanged:
		if d, ok := ev.Data.(*dex.PriceChanged); ok {
			out = append(out, s.poolChannels(d.Token0, d.Token1)...)
		}
	}
	for _, acc := range ev.Accounts() {
		out = append(out, AccountChannel(acc))
	}
	return out
}

// poolChannels names a pool by address and, when known, by both symbol orders.
func (s *Server) poolChannels(t0, t1 core.Token) []string {
	l := s.app.Engine().Ledger()
	out := []string{PoolChannel(t0.Hex(), t1.Hex())}
	s0, s1 := l.Symbol(t0), l.Symbol(t1)
	if s0 != t0.Hex() && s1 != t1.Hex() {
		out = append(out, PoolChannel(s0, s1), PoolChannel(s1, s0))
	}
	return out
}

// ==============================
// Middleware
// ==============================

type ctxKey int

const requestIDKey ctxKey = 0

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = xid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			respondError(w, http.StatusTooManyRequests, "rate limited", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ==============================
// Helper Functions
// ==============================

func (s *Server) tokenPair(w http.ResponseWriter, r *http.Request, ka, kb string) (core.Token, core.Token, bool) {
	vars := mux.Vars(r)
	l := s.app.Engine().Ledger()
	a, err := l.Token(vars[ka])
	if err != nil {
		respondEngineError(w, http.StatusNotFound, err)
		return core.Token{}, core.Token{}, false
	}
	b, err := l.Token(vars[kb])
	if err != nil {
		respondEngineError(w, http.StatusNotFound, err)
		return core.Token{}, core.Token{}, false
	}
	return a, b, true
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	s := mux.Vars(r)["address"]
	if !common.IsHexAddress(s) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func hexBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	return hexutil.Decode(s)
}

func blockInfo(b abci.Block) BlockInfo {
	return BlockInfo{Height: b.Height, Time: b.Time.Unix(), TxCount: b.TxCount, AppHash: b.AppHash.Hex()}
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}

// respondEngineError reports an engine error with its tag.
func respondEngineError(w http.ResponseWriter, status int, err error) {
	tag, _ := core.Classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error(), Tag: tag})
}
