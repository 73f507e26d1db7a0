package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Node struct {
	// MinBlockTime is the sequencer round length. Rounds without
	// transactions do not produce blocks.
	//
	// Recommended values:
	//   - Devnet:  200ms (5 rounds/sec)
	//   - Load tests: 50ms
	MinBlockTime time.Duration
	MaxTxBytes   int64
	MempoolSize  int
	DataDir      string // empty keeps all state in memory
	WALFile      string
	LogFile      string
	LogLevel     string
}

type API struct {
	Addr        string
	CORSOrigins []string
	RateLimit   float64 // POST requests per second per IP, 0 disables
	RateBurst   int
}

type Chain struct {
	ChainID int64
	Custody common.Address
}

type Solver struct {
	Enabled  bool
	Interval time.Duration
	Key      string // hex private key, empty generates one
}

// TxGen feeds the node with signed load-test transactions.
type TxGen struct {
	Enabled  bool
	Mode     string  // "default" or "high"
	TPS      float64 // overrides the mode's rate when positive
	Accounts int     // overrides the mode's trader count when positive
}

// P2P relays transactions and block announcements between nodes.
type P2P struct {
	ListenAddr string   // libp2p multiaddr, empty disables gossip
	Bootstrap  []string // full /ip4/.../p2p/<id> addresses
}

type Kafka struct {
	Brokers []string // empty disables publishing
	Topic   string
}

// TokenSpec binds a symbol to a token address.
type TokenSpec struct {
	Symbol  string
	Address common.Address
}

// PairSpec names a pool by its token symbols.
type PairSpec struct {
	A, B string
}

type DEX struct {
	Tokens        []TokenSpec
	Pairs         []PairSpec
	FaucetEnabled bool
	FaucetMax     *big.Int // nil means no cap
}

type Config struct {
	Node   Node
	API    API
	Chain  Chain
	Solver Solver
	Kafka  Kafka
	P2P    P2P
	TxGen  TxGen
	DEX    DEX
}

// DefaultCustody is the engine account of a devnet node.
var DefaultCustody = common.HexToAddress("0x000000000000000000000000000000000000c0de")

func Default() Config {
	return Config{
		Node: Node{
			MinBlockTime: 200 * time.Millisecond,
			MaxTxBytes:   1 << 20,
			MempoolSize:  10000,
			LogLevel:     "info",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			RateLimit:   20,
			RateBurst:   40,
		},
		Chain: Chain{
			ChainID: 1337,
			Custody: DefaultCustody,
		},
		Solver: Solver{
			Enabled:  true,
			Interval: time.Second,
		},
		Kafka: Kafka{
			Topic: "hyperswap.events",
		},
		TxGen: TxGen{
			Mode: "default",
		},
		DEX: DEX{
			Tokens: []TokenSpec{
				{Symbol: "BNB", Address: common.HexToAddress("0x0000000000000000000000000000000000000b0b")},
				{Symbol: "WETH", Address: common.HexToAddress("0x0000000000000000000000000000000000000e7e")},
				{Symbol: "TUSD", Address: common.HexToAddress("0x0000000000000000000000000000000000000d0d")},
			},
			Pairs: []PairSpec{
				{A: "BNB", B: "WETH"},
				{A: "WETH", B: "TUSD"},
				{A: "TUSD", B: "BNB"},
			},
			FaucetEnabled: true,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.WALFile = getEnv("WAL_FILE", cfg.Node.WALFile)
	cfg.Solver.Key = getEnv("SOLVER_KEY", cfg.Solver.Key)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		ms, err := strconv.Atoi(minBlock)
		if err != nil {
			return cfg, fmt.Errorf("NODE_MIN_BLOCK_TIME_MS: %w", err)
		}
		cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
	}
	if maxBytes := os.Getenv("BLOCK_MAX_TX_BYTES"); maxBytes != "" {
		n, err := strconv.ParseInt(maxBytes, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("BLOCK_MAX_TX_BYTES: %w", err)
		}
		cfg.Node.MaxTxBytes = n
	}
	if size := os.Getenv("MEMPOOL_SIZE"); size != "" {
		n, err := strconv.Atoi(size)
		if err != nil {
			return cfg, fmt.Errorf("MEMPOOL_SIZE: %w", err)
		}
		cfg.Node.MempoolSize = n
	}

	if solver := os.Getenv("ENABLE_SOLVER"); solver != "" {
		cfg.Solver.Enabled = solver == "true"
	}
	if interval := os.Getenv("SOLVER_INTERVAL_MS"); interval != "" {
		ms, err := strconv.Atoi(interval)
		if err != nil {
			return cfg, fmt.Errorf("SOLVER_INTERVAL_MS: %w", err)
		}
		cfg.Solver.Interval = time.Duration(ms) * time.Millisecond
	}

	// Enable with: ENABLE_TXGEN=true TXGEN_MODE=default|high
	if txgen := os.Getenv("ENABLE_TXGEN"); txgen != "" {
		cfg.TxGen.Enabled = txgen == "true"
	}
	cfg.TxGen.Mode = getEnv("TXGEN_MODE", cfg.TxGen.Mode)
	if tps := os.Getenv("TXGEN_TPS"); tps != "" {
		f, err := strconv.ParseFloat(tps, 64)
		if err != nil {
			return cfg, fmt.Errorf("TXGEN_TPS: %w", err)
		}
		cfg.TxGen.TPS = f
	}
	if accounts := os.Getenv("TXGEN_ACCOUNTS"); accounts != "" {
		n, err := strconv.Atoi(accounts)
		if err != nil {
			return cfg, fmt.Errorf("TXGEN_ACCOUNTS: %w", err)
		}
		cfg.TxGen.Accounts = n
	}

	if custody := os.Getenv("CUSTODY_ADDRESS"); custody != "" {
		if !common.IsHexAddress(custody) {
			return cfg, fmt.Errorf("CUSTODY_ADDRESS: invalid address %q", custody)
		}
		cfg.Chain.Custody = common.HexToAddress(custody)
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		id, err := strconv.ParseInt(chainID, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.Chain.ChainID = id
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}

	cfg.P2P.ListenAddr = getEnv("P2P_LISTEN", cfg.P2P.ListenAddr)
	if peers := os.Getenv("P2P_BOOTSTRAP"); peers != "" {
		cfg.P2P.Bootstrap = splitList(peers)
	}

	if limit := os.Getenv("API_RATE_LIMIT"); limit != "" {
		f, err := strconv.ParseFloat(limit, 64)
		if err != nil {
			return cfg, fmt.Errorf("API_RATE_LIMIT: %w", err)
		}
		cfg.API.RateLimit = f
	}
	if burst := os.Getenv("API_RATE_BURST"); burst != "" {
		n, err := strconv.Atoi(burst)
		if err != nil {
			return cfg, fmt.Errorf("API_RATE_BURST: %w", err)
		}
		cfg.API.RateBurst = n
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}

	// Example: "BNB:0x...0b0b,WETH:0x...0e7e"
	if tokens := os.Getenv("DEX_TOKENS"); tokens != "" {
		specs, err := ParseTokens(tokens)
		if err != nil {
			return cfg, fmt.Errorf("DEX_TOKENS: %w", err)
		}
		cfg.DEX.Tokens = specs
	}
	// Example: "BNB/WETH,WETH/TUSD"
	if pairs := os.Getenv("DEX_PAIRS"); pairs != "" {
		specs, err := ParsePairs(pairs)
		if err != nil {
			return cfg, fmt.Errorf("DEX_PAIRS: %w", err)
		}
		cfg.DEX.Pairs = specs
	}
	if faucet := os.Getenv("FAUCET_ENABLED"); faucet != "" {
		cfg.DEX.FaucetEnabled = faucet == "true"
	}
	if faucetMax := os.Getenv("FAUCET_MAX"); faucetMax != "" {
		n, ok := new(big.Int).SetString(faucetMax, 10)
		if !ok || n.Sign() < 0 {
			return cfg, fmt.Errorf("FAUCET_MAX: invalid amount %q", faucetMax)
		}
		cfg.DEX.FaucetMax = n
	}

	return cfg, nil
}

// ParseTokens parses "SYM:0xaddr,SYM:0xaddr".
func ParseTokens(s string) ([]TokenSpec, error) {
	var out []TokenSpec
	for _, item := range splitList(s) {
		sym, addr, ok := strings.Cut(item, ":")
		sym, addr = strings.TrimSpace(sym), strings.TrimSpace(addr)
		if !ok || sym == "" {
			return nil, fmt.Errorf("token %q: want SYMBOL:0xADDRESS", item)
		}
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("token %s: invalid address %q", sym, addr)
		}
		out = append(out, TokenSpec{Symbol: sym, Address: common.HexToAddress(addr)})
	}
	return out, nil
}

// ParsePairs parses "SYM/SYM,SYM/SYM".
func ParsePairs(s string) ([]PairSpec, error) {
	var out []PairSpec
	for _, item := range splitList(s) {
		a, b, ok := strings.Cut(item, "/")
		a, b = strings.TrimSpace(a), strings.TrimSpace(b)
		if !ok || a == "" || b == "" {
			return nil, fmt.Errorf("pair %q: want A/B", item)
		}
		if a == b {
			return nil, fmt.Errorf("pair %q: tokens must differ", item)
		}
		out = append(out, PairSpec{A: a, B: b})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
