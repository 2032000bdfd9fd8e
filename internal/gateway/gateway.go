// Package gateway is the single path from the engine to the external ledger.
// It owns decimal to minor-unit scaling, bounds every call with a timeout and
// normalizes collaborator failures into the errs taxonomy.
package gateway

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/metrics"
	"energy-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Scale is the number of decimal places carried by token amounts: 1 kWh = 100 minor units.
const Scale = 2

const defaultTimeout = 10 * time.Second

type Gateway struct {
	ledger  ledger.Ledger
	tokenId string
	timeout time.Duration
	metrics *metrics.EngineMetrics
}

func NewGateway(l ledger.Ledger, cfg models.LedgerConfig, m *metrics.EngineMetrics) *Gateway {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{ledger: l, tokenId: cfg.TokenId, timeout: timeout, metrics: m}
}

func (g *Gateway) TokenId() string { return g.tokenId }

// ToMinorUnits converts a decimal token amount to integer minor units. Amounts
// carrying more than Scale decimal places are rejected rather than rounded.
func ToMinorUnits(amount decimal.Decimal) (*big.Int, error) {
	shifted := amount.Shift(Scale)
	if !shifted.IsInteger() {
		return nil, errs.New(errs.KindInvalidInput, "amount %s has more than %d decimal places", amount, Scale)
	}
	return shifted.BigInt(), nil
}

// FromMinorUnits converts integer minor units back to a decimal token amount.
func FromMinorUnits(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -Scale)
}

func (g *Gateway) CreateAccount(ctx context.Context, funding decimal.Decimal) (ledger.Account, error) {
	raw, err := ToMinorUnits(funding)
	if err != nil {
		return ledger.Account{}, err
	}
	var acct ledger.Account
	err = g.call(ctx, "create_account", func(ctx context.Context) error {
		var err error
		acct, err = g.ledger.CreateAccount(ctx, raw)
		return err
	})
	return acct, err
}

// AssociateToken associates the engine's token with accountId. An account that
// is already associated yields an error matching ledger.ErrAlreadyAssociated.
func (g *Gateway) AssociateToken(ctx context.Context, accountId, credential string) (string, error) {
	var txId string
	err := g.call(ctx, "associate_token", func(ctx context.Context) error {
		var err error
		txId, err = g.ledger.AssociateToken(ctx, accountId, g.tokenId, credential)
		return err
	})
	return txId, err
}

func (g *Gateway) Mint(ctx context.Context, accountId string, amount decimal.Decimal, memo, reference string) (string, error) {
	return g.post(ctx, "mint", ledger.Posting{To: accountId, Memo: memo, Reference: reference}, amount, g.ledger.Mint)
}

func (g *Gateway) Burn(ctx context.Context, accountId string, amount decimal.Decimal, memo, reference string) (string, error) {
	return g.post(ctx, "burn", ledger.Posting{From: accountId, Memo: memo, Reference: reference}, amount, g.ledger.Burn)
}

func (g *Gateway) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, memo, reference string) (string, error) {
	if from == to {
		return "", errs.New(errs.KindInvalidInput, "transfer source and destination are the same account")
	}
	return g.post(ctx, "transfer", ledger.Posting{From: from, To: to, Memo: memo, Reference: reference}, amount, g.ledger.Transfer)
}

func (g *Gateway) BalanceOf(ctx context.Context, accountId string) (decimal.Decimal, error) {
	var raw *big.Int
	err := g.call(ctx, "balance", func(ctx context.Context) error {
		var err error
		raw, err = g.ledger.Balance(ctx, accountId, g.tokenId)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return FromMinorUnits(raw), nil
}

func (g *Gateway) post(ctx context.Context, op string, p ledger.Posting, amount decimal.Decimal, fn func(context.Context, ledger.Posting) (string, error)) (string, error) {
	if !amount.IsPositive() {
		return "", errs.New(errs.KindInvalidInput, "%s amount must be positive, got %s", op, amount)
	}
	raw, err := ToMinorUnits(amount)
	if err != nil {
		return "", err
	}
	p.TokenId = g.tokenId
	p.Amount = raw

	var txId string
	err = g.call(ctx, op, func(ctx context.Context) error {
		var err error
		txId, err = fn(ctx, p)
		return err
	})
	if err != nil {
		return "", err
	}
	zap.L().Info("Ledger operation succeeded",
		zap.String("operation", op),
		zap.String("from", p.From),
		zap.String("to", p.To),
		zap.String("amount", amount.String()),
		zap.String("reference", p.Reference),
		zap.String("tx_id", txId))
	return txId, nil
}

// call runs one collaborator call under the gateway timeout. There is no retry.
func (g *Gateway) call(ctx context.Context, op string, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	err := fn(callCtx)
	if err != nil {
		err = classify(op, err, callCtx.Err())
	}
	g.metrics.ObserveLedgerCall(op, outcome(err), time.Since(start))
	if err != nil {
		zap.L().Warn("Ledger operation failed",
			zap.String("operation", op),
			zap.String("error_kind", string(errs.KindOf(err))),
			zap.Error(err))
	}
	return err
}

func classify(op string, err, ctxErr error) error {
	switch {
	case ctxErr != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return errs.Wrap(errs.KindLedgerUnavailable, err, "%s did not complete; outcome unknown", op)
	case errors.Is(err, ledger.ErrNotAssociated):
		return errs.Wrap(errs.KindNotAssociated, err, "%s target account has not associated the token", op)
	case errors.Is(err, ledger.ErrAlreadyAssociated),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrInsufficientFunds):
		return errs.Wrap(errs.KindLedgerRejected, err, "%s rejected", op)
	}
	var rejected *ledger.RejectedError
	if errors.As(err, &rejected) {
		return errs.Wrap(errs.KindLedgerRejected, err, "%s rejected", op)
	}
	return errs.Wrap(errs.KindLedgerUnavailable, err, "%s transport failure; outcome unknown", op)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(errs.KindOf(err)))
}
