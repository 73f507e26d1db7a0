package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperswap/params"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/ledger"
	"github.com/uhyunpark/hyperswap/pkg/app/dex"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

func TestBootstrapIsIdempotent(t *testing.T) {
	cfg := params.Default()
	led := ledger.New()
	engine := dex.NewEngine(led, cfg.Chain.Custody, nil)

	require.NoError(t, bootstrap(led, engine, cfg.DEX))
	require.NoError(t, bootstrap(led, engine, cfg.DEX), "second run after restore")

	assert.Len(t, led.Tokens(), len(cfg.DEX.Tokens))
	assert.Len(t, engine.Pools(), len(cfg.DEX.Pairs))

	bnb, err := led.Token("BNB")
	require.NoError(t, err)
	assert.Equal(t, core.Token(cfg.DEX.Tokens[0].Address), bnb)
}

func TestBootstrapRejectsUnknownPairToken(t *testing.T) {
	cfg := params.Default()
	cfg.DEX.Pairs = append(cfg.DEX.Pairs, params.PairSpec{A: "BNB", B: "DOGE"})
	led := ledger.New()
	engine := dex.NewEngine(led, cfg.Chain.Custody, nil)

	err := bootstrap(led, engine, cfg.DEX)
	assert.ErrorIs(t, err, core.ErrUnknownToken)
}

func TestNewFeederFromNodeConfig(t *testing.T) {
	cfg := params.Default()
	cfg.TxGen.Mode = "high"
	cfg.TxGen.Accounts = 2
	cfg.DEX.FaucetMax = core.ScaledInt(5)

	led := ledger.New()
	engine := dex.NewEngine(led, cfg.Chain.Custody, nil)
	require.NoError(t, bootstrap(led, engine, cfg.DEX))
	app := dex.NewApp(engine, nil, nil, dex.AppConfig{Domain: crypto.DefaultDomain(), FaucetEnabled: true, FaucetMax: cfg.DEX.FaucetMax}, nil)

	feeder, err := newFeeder(cfg, led, engine, app, crypto.DefaultDomain(), zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NotNil(t, feeder)
}

func TestSolverSigner(t *testing.T) {
	generated, err := solverSigner("")
	require.NoError(t, err)

	loaded, err := solverSigner(generated.PrivateKeyHex())
	require.NoError(t, err)
	assert.Equal(t, generated.Address(), loaded.Address())

	_, err = solverSigner("not-a-key")
	assert.Error(t, err)
}
