package dex

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperswap/pkg/abci"
	"github.com/uhyunpark/hyperswap/pkg/app/core"
	"github.com/uhyunpark/hyperswap/pkg/app/core/transaction"
)

// applyTx verifies and executes one raw transaction. Caller holds a.mu.
func (a *App) applyTx(raw []byte) abci.TxResult {
	res := abci.TxResult{Hash: transaction.Hash(raw)}

	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		res.Code, res.Error = abci.CodeMalformed, err.Error()
		return res
	}
	res.Type = string(tx.Type)

	sender, err := a.verifier.Verify(tx)
	if err != nil {
		res.Code, res.Error = abci.CodeUnauthorized, err.Error()
		a.logger.Warnw("tx_unauthorized", "hash", res.Hash.Hex(), "type", tx.Type, "err", err)
		return res
	}

	nonce, err := tx.Nonce()
	if err != nil {
		res.Code, res.Error = abci.CodeMalformed, err.Error()
		return res
	}
	if last := a.nonces[sender]; nonce <= last {
		res.Code = abci.CodeBadNonce
		res.Error = fmt.Sprintf("%v: nonce %d, last %d", ErrStaleNonce, nonce, last)
		return res
	}
	// The nonce is spent even if execution fails, so a rejected tx cannot be replayed.
	a.nonces[sender] = nonce

	if err := a.execute(sender, tx); err != nil {
		res.Code, res.Tag, res.Error = abci.CodeRejected, txTag(err), err.Error()
		if errors.Is(err, ErrFaucetDisabled) {
			res.Code = abci.CodeDisabled
		}
		a.logger.Debugw("tx_rejected", "hash", res.Hash.Hex(), "type", tx.Type, "sender", sender.Hex(), "tag", res.Tag, "err", err)
	}
	return res
}

func txTag(err error) string {
	switch {
	case errors.Is(err, ErrFaucetDisabled):
		return "FaucetDisabled"
	case errors.Is(err, ErrFaucetLimit):
		return "FaucetLimit"
	}
	tag, _ := core.Classify(err)
	return tag
}

func (a *App) execute(sender common.Address, tx *transaction.SignedTransaction) error {
	switch tx.Type {
	case transaction.TxTypeOrder:
		o, err := tx.Order.ToEIP712()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidOrder, err)
		}
		t0, t1 := core.Token(o.TokenPair0), core.Token(o.TokenPair1)
		if err := a.requireTokens(t0, t1); err != nil {
			return err
		}
		_, err = a.engine.Submit(sender, core.OrderKind(o.Kind), o.Price, o.Quantity, t0, t1)
		return err

	case transaction.TxTypeCancel:
		c, err := tx.Cancel.ToEIP712()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidOrder, err)
		}
		if !c.OrderID.IsUint64() {
			return fmt.Errorf("%w: id %s", core.ErrOrderNotFound, c.OrderID)
		}
		_, err = a.engine.Cancel(sender, c.OrderID.Uint64())
		return err

	case transaction.TxTypeMatch:
		m, err := tx.Match.ToEIP712()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidOrder, err)
		}
		ids := make([]uint64, len(m.OrderIDs))
		for i, id := range m.OrderIDs {
			if !id.IsUint64() {
				return fmt.Errorf("%w: id %s", core.ErrOrderNotFound, id)
			}
			ids[i] = id.Uint64()
		}
		_, err = a.engine.MatchTrade(sender, ids, m.Quantities)
		return err

	case transaction.TxTypeApprove:
		ap, err := tx.Approve.ToEIP712()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidOrder, err)
		}
		tok := core.Token(ap.Token)
		if err := a.requireTokens(tok); err != nil {
			return err
		}
		return a.engine.Ledger().Approve(sender, a.engine.Custody(), tok, ap.Amount)

	case transaction.TxTypeLiquidity:
		l, err := tx.Liquidity.ToEIP712()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidOrder, err)
		}
		return a.engine.AddLiquidity(sender, core.Token(l.TokenA), l.AmountA, core.Token(l.TokenB), l.AmountB)

	case transaction.TxTypeFaucet:
		if !a.cfg.FaucetEnabled {
			return ErrFaucetDisabled
		}
		f, err := tx.Faucet.ToEIP712()
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidOrder, err)
		}
		tok := core.Token(f.Token)
		if err := a.requireTokens(tok); err != nil {
			return err
		}
		if a.cfg.FaucetMax != nil && f.Amount.Cmp(a.cfg.FaucetMax) > 0 {
			return fmt.Errorf("%w: %s > %s", ErrFaucetLimit, f.Amount, a.cfg.FaucetMax)
		}
		return a.engine.Ledger().Mint(sender, tok, new(big.Int).Set(f.Amount))
	}
	return fmt.Errorf("%w: unsupported transaction type %s", core.ErrInvalidOrder, tx.Type)
}

func (a *App) requireTokens(tokens ...core.Token) error {
	for _, t := range tokens {
		if _, err := a.engine.Ledger().Token(t.Hex()); err != nil {
			return err
		}
	}
	return nil
}
