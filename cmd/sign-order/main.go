package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

var (
	keyHex   = flag.String("key", "", "Hex private key (empty generates a new one)")
	kind     = flag.String("kind", "limit", "Order kind (market/limit/stop)")
	price    = flag.String("price", "1", "Price in tokenPair1 per tokenPair0, as a decimal")
	quantity = flag.String("qty", "1000000000000000000", "Quantity of tokenPair0 in raw units")
	from     = flag.String("from", "0x0000000000000000000000000000000000000b0b", "Offered token (tokenPair0)")
	to       = flag.String("to", "0x0000000000000000000000000000000000000e7e", "Desired token (tokenPair1)")
	nonce    = flag.Uint64("nonce", 1, "Account nonce")
	chainID  = flag.Int64("chain-id", 1337, "EIP-712 chain id")
	custody  = flag.String("custody", "0x000000000000000000000000000000000000c0de", "Engine custody address (EIP-712 verifying contract)")
	apiAddr  = flag.String("api", "http://localhost:8080", "Node API base URL")
)

func main() {
	flag.Parse()

	color.NoColor = false
	cyan := color.New(color.FgCyan).SprintfFunc()
	green := color.New(color.FgGreen).SprintfFunc()
	yellow := color.New(color.FgYellow).SprintfFunc()

	// Step 1: Generate or load key
	signer, err := loadSigner(*keyHex)
	if err != nil {
		fail("key", err)
	}
	fmt.Printf("%s %s\n", cyan("Address:"), signer.Address().Hex())
	if *keyHex == "" {
		fmt.Printf("%s %s %s\n\n", cyan("Private Key:"), signer.PrivateKeyHex(), yellow("(KEEP SECRET!)"))
	}

	// Step 2: Create order
	order, err := buildOrder(signer.Address())
	if err != nil {
		fail("order", err)
	}

	fmt.Println(cyan("Order Details:"))
	fmt.Printf("  Kind: %s\n", core.OrderKind(order.Kind))
	fmt.Printf("  Price: %s (%s raw)\n", decimal.NewFromBigInt(order.Price, -core.ScaleExp), order.Price)
	fmt.Printf("  Quantity: %s\n", order.Quantity)
	fmt.Printf("  Offers: %s\n", order.TokenPair0.Hex())
	fmt.Printf("  Wants: %s\n", order.TokenPair1.Hex())
	fmt.Printf("  Owner: %s\n\n", order.Owner.Hex())

	// Step 3: Sign order with EIP-712
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(*chainID)
	domain.VerifyingContract = common.HexToAddress(*custody)

	signature, err := crypto.NewEIP712Signer(domain).SignOrder(signer, order)
	if err != nil {
		fail("sign", err)
	}
	fmt.Printf("%s 0x%x\n\n", cyan("Signature:"), signature)

	// Step 4: Create signed transaction
	signedTx := &transaction.SignedTransaction{
		Type:      transaction.TxTypeOrder,
		Order:     transaction.FromEIP712Order(order),
		Signature: fmt.Sprintf("0x%x", signature),
	}

	txJSON, err := json.MarshalIndent(signedTx, "", "  ")
	if err != nil {
		fail("marshal", err)
	}
	fmt.Println(cyan("Signed Transaction (JSON):"))
	fmt.Println(string(txJSON))
	fmt.Println()

	// Step 5: Verify signature
	recovered, err := transaction.NewVerifier(domain).Verify(signedTx)
	if err != nil {
		fail("verify", err)
	}
	fmt.Println(green("✓ Signature VALID"))
	fmt.Printf("  Signer: %s\n\n", recovered.Hex())

	// Step 6: Show how to submit to API
	fmt.Println(cyan("Submit with:"))
	fmt.Printf("  curl -X POST %s/api/v1/orders -H 'Content-Type: application/json' -d '%s'\n",
		strings.TrimRight(*apiAddr, "/"), compact(signedTx))
	fmt.Println(yellow("Approve the custody account for the offered token first (POST /api/v1/approvals)."))
}

func loadSigner(key string) (*crypto.Signer, error) {
	if key == "" {
		return crypto.GenerateKey()
	}
	return crypto.FromPrivateKeyHex(key)
}

func buildOrder(owner common.Address) (*crypto.OrderEIP712, error) {
	k, err := parseKind(*kind)
	if err != nil {
		return nil, err
	}
	p, err := decimal.NewFromString(*price)
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", *price, err)
	}
	if p.IsNegative() {
		return nil, fmt.Errorf("price %q: must not be negative", *price)
	}
	q, ok := new(big.Int).SetString(*quantity, 10)
	if !ok || q.Sign() <= 0 {
		return nil, fmt.Errorf("qty %q: want a positive integer", *quantity)
	}
	for _, addr := range []string{*from, *to} {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("token %q: invalid address", addr)
		}
	}
	return &crypto.OrderEIP712{
		Kind:       uint8(k),
		Price:      p.Shift(core.ScaleExp).BigInt(),
		Quantity:   q,
		TokenPair0: common.HexToAddress(*from),
		TokenPair1: common.HexToAddress(*to),
		Nonce:      new(big.Int).SetUint64(*nonce),
		Owner:      owner,
	}, nil
}

func parseKind(s string) (core.OrderKind, error) {
	switch strings.ToLower(s) {
	case "market":
		return core.Market, nil
	case "limit":
		return core.Limit, nil
	case "stop":
		return core.Stop, nil
	}
	return 0, fmt.Errorf("kind %q: want market, limit or stop", s)
}

func compact(tx *transaction.SignedTransaction) string {
	b, _ := json.Marshal(tx)
	return string(b)
}

func fail(step string, err error) {
	fmt.Fprintln(os.Stderr, color.New(color.FgRed).Sprintf("✗ %s: %v", step, err))
	os.Exit(1)
}
