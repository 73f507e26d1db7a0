package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Verifier handles transaction signature verification
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

// NewVerifier creates a new transaction verifier
func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Digest returns the EIP-712 digest the transaction's signature must cover,
// together with the address that claims to have signed it.
func (v *Verifier) Digest(tx *SignedTransaction) ([]byte, common.Address, error) {
	if err := tx.Validate(); err != nil {
		return nil, common.Address{}, err
	}

	switch tx.Type {
	case TxTypeOrder:
		o, _ := tx.Order.ToEIP712()
		d, err := v.eip712Signer.HashOrder(o)
		return d, o.Owner, err
	case TxTypeCancel:
		c, _ := tx.Cancel.ToEIP712()
		d, err := v.eip712Signer.HashCancel(c)
		return d, c.Owner, err
	case TxTypeMatch:
		m, _ := tx.Match.ToEIP712()
		d, err := v.eip712Signer.HashMatch(m)
		return d, m.Solver, err
	case TxTypeApprove:
		a, _ := tx.Approve.ToEIP712()
		d, err := v.eip712Signer.HashApprove(a)
		return d, a.Owner, err
	case TxTypeLiquidity:
		l, _ := tx.Liquidity.ToEIP712()
		d, err := v.eip712Signer.HashLiquidity(l)
		return d, l.Provider, err
	case TxTypeFaucet:
		f, _ := tx.Faucet.ToEIP712()
		d, err := v.eip712Signer.HashFaucet(f)
		return d, f.Owner, err
	}
	return nil, common.Address{}, fmt.Errorf("unsupported transaction type: %s", tx.Type)
}

// Verify checks the signature and returns the authenticated sender.
// The recovered signer must equal the owner/solver/provider named in the payload.
func (v *Verifier) Verify(tx *SignedTransaction) (common.Address, error) {
	digest, claimed, err := v.Digest(tx)
	if err != nil {
		return common.Address{}, err
	}

	sigBytes, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid signature: %w", err)
	}

	recovered, err := crypto.RecoverAddress(digest, sigBytes)
	if err != nil {
		return common.Address{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if recovered != claimed {
		return common.Address{}, fmt.Errorf("signature invalid: signed by %s, claims %s", recovered.Hex(), claimed.Hex())
	}
	return claimed, nil
}

// Sign fills tx.Signature using signer. Used by clients and tests.
func (v *Verifier) Sign(signer *crypto.Signer, tx *SignedTransaction) error {
	tx.Signature = "0x00"
	digest, _, err := v.Digest(tx)
	if err != nil {
		return err
	}
	sig, err := crypto.SignDigest(signer, digest)
	if err != nil {
		return err
	}
	tx.Signature = "0x" + hex.EncodeToString(sig)
	return nil
}

// decodeSignature decodes hex-encoded signature (with or without 0x prefix)
func decodeSignature(sig string) ([]byte, error) {
	sig = strings.TrimPrefix(sig, "0x")

	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}

	if len(sigBytes) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(sigBytes))
	}

	return sigBytes, nil
}
