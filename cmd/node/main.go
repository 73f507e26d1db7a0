package main

import (
	"context"
	"errors"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/api"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
	"github.com/uhyunpark/hyperswap/pkg/messaging"
	"github.com/uhyunpark/hyperswap/pkg/p2p"
	"github.com/uhyunpark/hyperswap/pkg/solver"
	"github.com/uhyunpark/hyperswap/pkg/storage"
	"github.com/uhyunpark/hyperswap/pkg/txgen"
	"github.com/uhyunpark/hyperswap/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	var logger *zap.Logger
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store storage.Store
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(cfg.Node.DataDir)
		if err != nil {
			sugar.Fatalw("store_open_failed", "dir", cfg.Node.DataDir, "err", err)
		}
		store = ps
		sugar.Infow("store_opened", "backend", "pebble", "dir", cfg.Node.DataDir)
	} else {
		store = storage.NewInMemoryBlockStore()
		sugar.Infow("store_opened", "backend", "memory")
	}
	defer store.Close()

	// ---- Events ----
	var publisher messaging.Publisher = messaging.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := messaging.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		publisher = kp
		sugar.Infow("kafka_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	// ---- App: DEX ----
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Chain.ChainID)
	domain.VerifyingContract = cfg.Chain.Custody

	led := ledger.New()
	engine := dex.NewEngine(led, cfg.Chain.Custody, sugar.Named("engine"))
	app := dex.NewApp(engine, store, publisher, dex.AppConfig{
		Domain:        domain,
		MempoolSize:   cfg.Node.MempoolSize,
		FaucetEnabled: cfg.DEX.FaucetEnabled,
		FaucetMax:     cfg.DEX.FaucetMax,
	}, sugar.Named("app"))

	if cfg.Node.WALFile != "" {
		wal, err := storage.NewFileWAL(cfg.Node.WALFile)
		if err != nil {
			sugar.Fatalw("wal_open_failed", "file", cfg.Node.WALFile, "err", err)
		}
		defer wal.Close()
		app.SetWAL(wal)
	}

	last, restored, err := app.Load()
	if err != nil {
		sugar.Fatalw("state_load_failed", "err", err)
	}
	if err := bootstrap(led, engine, cfg.DEX); err != nil {
		sugar.Fatalw("bootstrap_failed", "err", err)
	}
	sugar.Infow("node_starting",
		"chain_id", cfg.Chain.ChainID,
		"custody", cfg.Chain.Custody.Hex(),
		"restored", restored,
		"height", last.Height,
		"tokens", len(led.Tokens()),
		"pools", len(engine.Pools()),
		"faucet", cfg.DEX.FaucetEnabled)

	// ---- Sequencer ----
	seq := abci.NewSequencer(app, util.RealClock{}, cfg.Node.MinBlockTime, last)
	seq.MaxTxBytes = cfg.Node.MaxTxBytes
	seq.Logger = sugar.Named("sequencer")
	sugar.Infow("block_time_config", "min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds())

	// ---- API Server ----
	// Start HTTP/WebSocket server for frontend
	apiServer := api.NewServer(app, api.Config{
		CORSOrigins: cfg.API.CORSOrigins,
		RateLimit:   cfg.API.RateLimit,
		RateBurst:   cfg.API.RateBurst,
	}, sugar.Named("api"))

	// ---- Solver (optional) ----
	var watcher *solver.Watcher
	if cfg.Solver.Enabled {
		signer, err := solverSigner(cfg.Solver.Key)
		if err != nil {
			sugar.Fatalw("solver_key_invalid", "err", err)
		}
		watcher = solver.NewWatcher(engine, app, signer, domain, solver.Config{
			Interval:    cfg.Solver.Interval,
			MaxCycles:   solver.DefaultConfig().MaxCycles,
			MaxCycleLen: solver.DefaultConfig().MaxCycleLen,
		}, sugar.Named("solver"))
		sugar.Infow("solver_enabled", "address", watcher.Address().Hex(), "interval_ms", cfg.Solver.Interval.Milliseconds())
	} else {
		sugar.Info("solver_disabled")
	}

	// ---- Gossip (optional) ----
	// Enable with: P2P_LISTEN=/ip4/0.0.0.0/tcp/4001 P2P_BOOTSTRAP=/ip4/.../p2p/<id>
	var gossip *p2p.Libp2pNet
	if cfg.P2P.ListenAddr != "" {
		gossip, err = p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.ListenAddr,
			Bootstrap:  cfg.P2P.Bootstrap,
			Logger:     sugar.Named("p2p"),
		})
		if err != nil {
			sugar.Fatalw("libp2p_init_failed", "err", err)
		}
		defer gossip.Close()

		gossip.SetHandlers(p2p.Handlers{
			OnTx: func(raw []byte) error {
				_, _, err := app.CheckTx(raw)
				return err
			},
			OnBlock: func(from peer.ID, blk abci.Block) {
				if blk.Height > seq.Height() {
					sugar.Debugw("peer_ahead", "peer", from.String(), "peer_height", blk.Height, "height", seq.Height())
				}
			},
		})
		apiServer.OnTxAccepted = func(raw []byte) {
			if err := gossip.BroadcastTx(ctx, raw); err != nil {
				sugar.Warnw("gossip_tx_failed", "err", err)
			}
		}
	}

	// Hook API server and solver to the app: push updates on every block commit
	app.OnEvents = func(blk abci.Block, events []dex.Event) {
		apiServer.PublishEvents(blk, events)
		if watcher != nil {
			watcher.OnEvents(events)
		}
	}
	seq.OnBlockCommit = func(blk abci.Block, fin abci.ResponseFinalizeBlock) {
		apiServer.PublishBlock(blk, fin)
		if gossip != nil {
			if err := gossip.AnnounceBlock(ctx, blk); err != nil {
				sugar.Warnw("gossip_block_failed", "height", blk.Height, "err", err)
			}
		}
	}

	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.API.Addr)
		if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	if watcher != nil {
		go watcher.Run(ctx)
	}

	// ---- Transaction Feeder (optional) ----
	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if cfg.TxGen.Enabled {
		feeder, err := newFeeder(cfg, led, engine, app, domain, sugar.Named("txgen"))
		if err != nil {
			sugar.Fatalw("txgen_init_failed", "err", err)
		}
		go func() {
			if err := feeder.Run(ctx); err != nil && ctx.Err() == nil {
				sugar.Errorw("txgen_failed", "err", err)
			}
		}()
	} else {
		sugar.Info("txgen_disabled")
	}

	// Progress logging loop
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				blk := seq.LastBlock()
				sugar.Infow("sequencer_progress",
					"height", blk.Height,
					"mempool", app.Mempool().Len(),
					"orders", len(engine.Orders()))
			}
		}
	}()

	if err := seq.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		sugar.Errorw("sequencer_failed", "err", err)
	}
	sugar.Infow("node_stopped", "height", seq.Height())
}

// bootstrap registers the configured tokens and pools. Both steps are
// idempotent so a restored node can run them again.
func bootstrap(led *ledger.Ledger, engine *dex.Engine, cfg params.DEX) error {
	for _, t := range cfg.Tokens {
		if err := led.RegisterToken(t.Symbol, core.Token(t.Address)); err != nil {
			return err
		}
	}
	for _, p := range cfg.Pairs {
		a, err := led.Token(p.A)
		if err != nil {
			return err
		}
		b, err := led.Token(p.B)
		if err != nil {
			return err
		}
		if _, err := engine.RegisterPair(a, b); err != nil && !errors.Is(err, core.ErrPairAlreadyRegistered) {
			return err
		}
	}
	return nil
}

func newFeeder(cfg params.Config, led *ledger.Ledger, engine *dex.Engine, app *dex.App, domain crypto.EIP712Domain, logger *zap.SugaredLogger) (*txgen.Feeder, error) {
	var txCfg txgen.Config
	switch cfg.TxGen.Mode {
	case "high":
		txCfg = txgen.HighLoadConfig()
	default:
		txCfg = txgen.DefaultConfig()
	}
	if cfg.TxGen.TPS > 0 {
		txCfg.TxPerSecond = cfg.TxGen.TPS
	}
	if cfg.TxGen.Accounts > 0 {
		txCfg.NumAccounts = cfg.TxGen.Accounts
	}
	if cfg.DEX.FaucetMax != nil && txCfg.FundAmount.Cmp(cfg.DEX.FaucetMax) > 0 {
		txCfg.FundAmount = new(big.Int).Set(cfg.DEX.FaucetMax)
	}
	for _, p := range cfg.DEX.Pairs {
		a, err := led.Token(p.A)
		if err != nil {
			return nil, err
		}
		b, err := led.Token(p.B)
		if err != nil {
			return nil, err
		}
		txCfg.Pairs = append(txCfg.Pairs, txgen.Pair{A: a, B: b})
	}

	gen, err := txgen.NewGenerator(domain, txCfg)
	if err != nil {
		return nil, err
	}
	logger.Infow("txgen_enabled", "mode", cfg.TxGen.Mode, "target_tps", txCfg.TxPerSecond, "accounts", txCfg.NumAccounts)
	return txgen.NewFeeder(gen, app, engine, txCfg, logger), nil
}

func solverSigner(key string) (*crypto.Signer, error) {
	if key == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(key)
}
