package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/metrics"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Ledger is the subset of the ledger gateway the bridge needs.
type Ledger interface {
	CreateAccount(ctx context.Context, funding decimal.Decimal) (ledger.Account, error)
	AssociateToken(ctx context.Context, accountId, credential string) (string, error)
}

type Config struct {
	InitialFunding   decimal.Decimal
	ProvisionTimeout time.Duration
	PollInterval     time.Duration
}

// Bridge maps wallet addresses to ledger accounts, provisioning at most one
// account per wallet. Concurrent calls in one process share a single flight;
// across processes a reservation written with SetIfAbsent decides the winner.
type Bridge struct {
	store   store.KVStore
	ledger  Ledger
	cfg     Config
	metrics *metrics.EngineMetrics
	group   singleflight.Group
	now     func() time.Time
}

func NewBridge(s store.KVStore, l Ledger, cfg Config, m *metrics.EngineMetrics) *Bridge {
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}
	return &Bridge{store: s, ledger: l, cfg: cfg, metrics: m, now: time.Now}
}

// ResolveOrCreateAccount returns the ledger account mapped to wallet, creating
// and funding one on first use. Token association failure does not fail the call.
func (b *Bridge) ResolveOrCreateAccount(ctx context.Context, wallet string) (string, error) {
	if wallet == "" {
		return "", errs.New(errs.KindInvalidInput, "wallet address is required")
	}
	// The flight outlives any single caller; each caller waits on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := b.group.DoChan(wallet, func() (any, error) {
		return b.resolve(flightCtx, wallet)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			zap.L().Debug("Wallet resolution shared with concurrent caller", zap.String("wallet", wallet))
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", errs.Wrap(errs.KindLedgerUnavailable, ctx.Err(), "resolve wallet %s", wallet)
	}
}

func (b *Bridge) IsMapped(ctx context.Context, wallet string) (bool, error) {
	_, found, err := b.GetAccountId(ctx, wallet)
	return found, err
}

func (b *Bridge) GetAccountId(ctx context.Context, wallet string) (string, bool, error) {
	m, _, err := b.mapping(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if m.Pending {
		return "", false, nil
	}
	return m.LedgerAccountId, true, nil
}

// GetMapping returns the completed mapping for wallet.
func (b *Bridge) GetMapping(ctx context.Context, wallet string) (*models.WalletAccountMapping, error) {
	m, _, err := b.mapping(ctx, wallet)
	if errors.Is(err, store.ErrNotFound) || (err == nil && m.Pending) {
		return nil, errs.New(errs.KindNotFound, "no account mapped for wallet %s", wallet)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (b *Bridge) resolve(ctx context.Context, wallet string) (string, error) {
	for {
		m, raw, err := b.mapping(ctx, wallet)
		switch {
		case errors.Is(err, store.ErrNotFound):
			claim := b.reservation(wallet)
			claimRaw, ok, err := b.reserve(ctx, wallet, claim)
			if err != nil {
				return "", err
			}
			if ok {
				return b.provision(ctx, wallet, claimRaw)
			}
		case err != nil:
			return "", err
		case !m.Pending:
			return m.LedgerAccountId, nil
		case b.now().Sub(m.CreatedAt) > b.cfg.ProvisionTimeout:
			zap.L().Warn("Taking over stale wallet reservation",
				zap.String("wallet", wallet),
				zap.String("claim_id", m.ClaimId))
			claimRaw, ok, err := store.SwapJSON(ctx, b.store, store.WalletKey(wallet), raw, b.reservation(wallet))
			if err != nil {
				return "", errs.Wrap(errs.KindPersistenceUnavailable, err, "reserve wallet %s", wallet)
			}
			if ok {
				return b.provision(ctx, wallet, claimRaw)
			}
		default:
			select {
			case <-ctx.Done():
				return "", errs.Wrap(errs.KindPersistenceUnavailable, ctx.Err(), "waiting for wallet %s provisioning", wallet)
			case <-time.After(b.cfg.PollInterval):
			}
		}
	}
}

// provision creates the ledger account for a reservation this caller owns.
func (b *Bridge) provision(ctx context.Context, wallet string, claimRaw []byte) (string, error) {
	acct, err := b.ledger.CreateAccount(ctx, b.cfg.InitialFunding)
	if err != nil {
		b.release(ctx, wallet, claimRaw)
		return "", fmt.Errorf("create ledger account for wallet %s: %w", wallet, err)
	}

	mapping := models.WalletAccountMapping{
		WalletAddress:      wallet,
		LedgerAccountId:    acct.Id,
		CredentialMaterial: acct.Credential,
		CreatedAt:          b.now().UTC(),
	}
	_, ok, err := store.SwapJSON(ctx, b.store, store.WalletKey(wallet), claimRaw, mapping)
	if err != nil {
		return "", errs.Wrap(errs.KindPersistenceUnavailable, err, "persist mapping for wallet %s", wallet)
	}
	if !ok {
		// The reservation went stale and was taken over; the winner's account stands.
		zap.L().Error("Wallet reservation lost after account creation; ledger account orphaned",
			zap.String("wallet", wallet),
			zap.String("account_id", acct.Id))
		return b.resolve(ctx, wallet)
	}
	if err := b.store.SAdd(ctx, store.SetWallets, wallet); err != nil {
		zap.L().Warn("Failed to index wallet", zap.String("wallet", wallet), zap.Error(err))
	}
	b.metrics.ObserveAccountCreated()

	zap.L().Info("Ledger account provisioned for wallet",
		zap.String("wallet", wallet),
		zap.String("account_id", acct.Id))

	if _, err := b.AssociateTokenForWallet(ctx, wallet); err != nil {
		zap.L().Warn("Token association failed; will retry on first use",
			zap.String("wallet", wallet),
			zap.String("account_id", acct.Id),
			zap.Error(err))
	}
	return acct.Id, nil
}

// AssociateTokenForWallet associates the energy token with the wallet's account.
// An account that is already associated is not an error; the returned id is empty.
func (b *Bridge) AssociateTokenForWallet(ctx context.Context, wallet string) (string, error) {
	m, err := b.GetMapping(ctx, wallet)
	if err != nil {
		return "", err
	}
	txId, err := b.ledger.AssociateToken(ctx, m.LedgerAccountId, m.CredentialMaterial)
	if err != nil && !errors.Is(err, ledger.ErrAlreadyAssociated) {
		return "", err
	}
	if err := b.markAssociated(ctx, m.LedgerAccountId); err != nil {
		return txId, err
	}
	err = store.Update(ctx, b.store, store.WalletKey(wallet), 10, func(cur *models.WalletAccountMapping) error {
		cur.TokenAssociated = true
		return nil
	})
	if err != nil {
		zap.L().Warn("Failed to record association on wallet mapping", zap.String("wallet", wallet), zap.Error(err))
	}
	return txId, nil
}

// EnsureAssociated associates the token with accountId unless it is known to be
// associated already. A rejected association surfaces as NotAssociated.
func (b *Bridge) EnsureAssociated(ctx context.Context, accountId string) error {
	_, err := b.store.Get(ctx, store.AssociationKey(accountId))
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return errs.Wrap(errs.KindPersistenceUnavailable, err, "load association for %s", accountId)
	}

	_, err = b.ledger.AssociateToken(ctx, accountId, "")
	if err != nil && !errors.Is(err, ledger.ErrAlreadyAssociated) {
		if errs.KindOf(err) == errs.KindLedgerUnavailable {
			return err
		}
		return errs.Wrap(errs.KindNotAssociated, err, "account %s could not be associated with the token", accountId)
	}
	zap.L().Info("Token association ensured", zap.String("account_id", accountId))
	return b.markAssociated(ctx, accountId)
}

func (b *Bridge) markAssociated(ctx context.Context, accountId string) error {
	if err := b.store.Set(ctx, store.AssociationKey(accountId), []byte(`true`)); err != nil {
		return errs.Wrap(errs.KindPersistenceUnavailable, err, "record association for %s", accountId)
	}
	return nil
}

func (b *Bridge) mapping(ctx context.Context, wallet string) (*models.WalletAccountMapping, []byte, error) {
	var m models.WalletAccountMapping
	raw, err := store.GetJSON(ctx, b.store, store.WalletKey(wallet), &m)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "load mapping for wallet %s", wallet)
	}
	return &m, raw, nil
}

func (b *Bridge) reservation(wallet string) models.WalletAccountMapping {
	return models.WalletAccountMapping{
		WalletAddress: wallet,
		Pending:       true,
		ClaimId:       uuid.New().String(),
		CreatedAt:     b.now().UTC(),
	}
}

func (b *Bridge) reserve(ctx context.Context, wallet string, claim models.WalletAccountMapping) ([]byte, bool, error) {
	raw, err := json.Marshal(claim)
	if err != nil {
		return nil, false, fmt.Errorf("encode reservation for wallet %s: %w", wallet, err)
	}
	ok, err := b.store.SetIfAbsent(ctx, store.WalletKey(wallet), raw)
	if err != nil {
		return nil, false, errs.Wrap(errs.KindPersistenceUnavailable, err, "reserve wallet %s", wallet)
	}
	return raw, ok, nil
}

// release marks a reservation as immediately stale so the next caller retries provisioning.
func (b *Bridge) release(ctx context.Context, wallet string, claimRaw []byte) {
	released := models.WalletAccountMapping{WalletAddress: wallet, Pending: true}
	if _, _, err := store.SwapJSON(ctx, b.store, store.WalletKey(wallet), claimRaw, released); err != nil {
		zap.L().Warn("Failed to release wallet reservation", zap.String("wallet", wallet), zap.Error(err))
	}
}
