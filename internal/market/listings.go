package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/gateway"
	"energy-ledger-go/internal/metrics"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the subset of the ledger gateway the market needs.
type Ledger interface {
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal, memo, reference string) (string, error)
	BalanceOf(ctx context.Context, accountId string) (decimal.Decimal, error)
}

type Associator interface {
	EnsureAssociated(ctx context.Context, accountId string) error
}

// Sources reports whether an energy source is recognised. A nil Sources accepts any.
type Sources interface {
	Contains(source string) bool
}

type Config struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	// EscrowAccount, when set, is the source of every trade transfer instead of the seller.
	EscrowAccount string
}

// Manager owns the listing and trade state machines.
type Manager struct {
	store   store.KVStore
	ledger  Ledger
	assoc   Associator
	sources Sources
	cfg     Config
	metrics *metrics.EngineMetrics
	now     func() time.Time

	stopChan chan struct{}
	doneChan chan struct{}
}

func NewManager(s store.KVStore, l Ledger, a Associator, sources Sources, cfg Config, m *metrics.EngineMetrics) *Manager {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 24 * time.Hour
	}
	return &Manager{
		store:   s,
		ledger:  l,
		assoc:   a,
		sources: sources,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

type ListingParams struct {
	SellerId     string
	EnergyAmount decimal.Decimal
	PricePerUnit decimal.Decimal
	EnergySource string
	Location     string
	TTL          time.Duration
}

// CreateListing persists an Active listing after checking the seller holds at
// least the listed amount on the ledger.
func (m *Manager) CreateListing(ctx context.Context, p ListingParams) (*models.Listing, error) {
	if err := m.validateListing(p); err != nil {
		return nil, err
	}

	balance, err := m.ledger.BalanceOf(ctx, p.SellerId)
	if err != nil {
		return nil, fmt.Errorf("check seller balance: %w", err)
	}
	if balance.LessThan(p.EnergyAmount) {
		return nil, errs.New(errs.KindInsufficientBalance,
			"seller %s holds %s, listing requires %s", p.SellerId, balance, p.EnergyAmount)
	}

	ttl := p.TTL
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	now := m.now().UTC()
	listing := &models.Listing{
		Id:           uuid.New().String(),
		SellerId:     p.SellerId,
		EnergyAmount: p.EnergyAmount,
		PricePerUnit: p.PricePerUnit,
		TotalPrice:   p.EnergyAmount.Mul(p.PricePerUnit),
		Location:     p.Location,
		EnergySource: p.EnergySource,
		State:        models.ListingActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		UpdatedAt:    now,
	}

	if _, err := store.SetJSONIfAbsent(ctx, m.store, store.ListingKey(listing.Id), listing); err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "persist listing")
	}
	for _, set := range []string{store.SetActiveListings, store.SetAllListings, store.UserListingsSet(p.SellerId)} {
		if err := m.store.SAdd(ctx, set, listing.Id); err != nil {
			return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "index listing %s", listing.Id)
		}
	}
	m.metrics.ObserveListing(string(models.ListingActive))

	zap.L().Info("Listing created",
		zap.String("listing_id", listing.Id),
		zap.String("seller_id", listing.SellerId),
		zap.String("energy_amount", listing.EnergyAmount.String()),
		zap.String("price_per_unit", listing.PricePerUnit.String()),
		zap.Time("expires_at", listing.ExpiresAt))
	return listing, nil
}

func (m *Manager) validateListing(p ListingParams) error {
	switch {
	case p.SellerId == "":
		return errs.New(errs.KindInvalidInput, "seller id is required")
	case !p.EnergyAmount.IsPositive():
		return errs.New(errs.KindInvalidInput, "energy amount must be positive, got %s", p.EnergyAmount)
	case !p.PricePerUnit.IsPositive():
		return errs.New(errs.KindInvalidInput, "price per unit must be positive, got %s", p.PricePerUnit)
	case p.EnergySource == "":
		return errs.New(errs.KindInvalidInput, "energy source is required")
	case p.TTL < 0:
		return errs.New(errs.KindInvalidInput, "ttl cannot be negative")
	}
	if _, err := gateway.ToMinorUnits(p.EnergyAmount); err != nil {
		return err
	}
	if m.sources != nil && !m.sources.Contains(p.EnergySource) {
		return errs.New(errs.KindInvalidInput, "unknown energy source %q", p.EnergySource)
	}
	return nil
}

// GetListing loads a listing, expiring it first if its deadline has passed.
func (m *Manager) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	listing, raw, err := m.loadListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if listing.State == models.ListingActive && !m.now().Before(listing.ExpiresAt) {
		return m.expire(ctx, listing, raw)
	}
	return listing, nil
}

// ListActive returns unexpired Active listings, newest first. Listings found
// past their deadline are transitioned to Expired as part of the read.
func (m *Manager) ListActive(ctx context.Context) ([]models.Listing, error) {
	ids, err := m.store.SMembers(ctx, store.SetActiveListings)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "list active listings")
	}

	now := m.now()
	active := make([]models.Listing, 0, len(ids))
	for _, id := range ids {
		listing, raw, err := m.loadListing(ctx, id)
		if errs.KindOf(err) == errs.KindNotFound {
			m.unindex(ctx, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		switch {
		case listing.State != models.ListingActive:
			m.unindex(ctx, id)
		case !now.Before(listing.ExpiresAt):
			if _, err := m.expire(ctx, listing, raw); err != nil {
				zap.L().Warn("Lazy expiry failed", zap.String("listing_id", id), zap.Error(err))
			}
		default:
			active = append(active, *listing)
		}
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].CreatedAt.After(active[j].CreatedAt)
	})
	return active, nil
}

// Cancel moves an Active listing owned by callerId to Cancelled. It returns
// false, without error, when the caller is not the seller or the listing is no
// longer Active.
func (m *Manager) Cancel(ctx context.Context, listingId, callerId string) (bool, error) {
	for {
		listing, raw, err := m.loadListing(ctx, listingId)
		if err != nil {
			return false, err
		}
		if listing.SellerId != callerId {
			zap.L().Warn("Cancel refused: caller is not the seller",
				zap.String("listing_id", listingId),
				zap.String("caller_id", callerId))
			return false, nil
		}
		if listing.State != models.ListingActive {
			return false, nil
		}
		if !m.now().Before(listing.ExpiresAt) {
			_, err := m.expire(ctx, listing, raw)
			return false, err
		}

		ok, err := m.transition(ctx, listing, raw, models.ListingCancelled, "")
		if err != nil {
			return false, err
		}
		if ok {
			zap.L().Info("Listing cancelled", zap.String("listing_id", listingId))
			return true, nil
		}
	}
}

// SweepExpired expires every Active listing past its deadline and returns how many it moved.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	ids, err := m.store.SMembers(ctx, store.SetActiveListings)
	if err != nil {
		return 0, errs.Wrap(errs.KindPersistenceUnavailable, err, "list active listings")
	}
	expired := 0
	now := m.now()
	for _, id := range ids {
		listing, raw, err := m.loadListing(ctx, id)
		if err != nil {
			continue
		}
		if listing.State != models.ListingActive {
			m.unindex(ctx, id)
			continue
		}
		if now.Before(listing.ExpiresAt) {
			continue
		}
		after, err := m.expire(ctx, listing, raw)
		if err == nil && after.State == models.ListingExpired {
			expired++
		}
	}
	return expired, nil
}

// expire moves listing to Expired. If another writer transitioned it first,
// the listing as they left it is returned.
func (m *Manager) expire(ctx context.Context, listing *models.Listing, raw []byte) (*models.Listing, error) {
	ok, err := m.transition(ctx, listing, raw, models.ListingExpired, "")
	if err != nil {
		return nil, err
	}
	if !ok {
		current, _, err := m.loadListing(ctx, listing.Id)
		return current, err
	}
	zap.L().Info("Listing expired", zap.String("listing_id", listing.Id), zap.Time("expires_at", listing.ExpiresAt))
	return listing, nil
}

// transition is the single conditional write for listing state: it moves an
// Active listing to next only if the stored bytes are still raw. On success
// listing is updated in place.
func (m *Manager) transition(ctx context.Context, listing *models.Listing, raw []byte, next models.ListingState, tradeId string) (bool, error) {
	if listing.State.Terminal() {
		return false, nil
	}
	updated := *listing
	updated.State = next
	updated.UpdatedAt = m.now().UTC()
	if tradeId != "" {
		updated.TradeId = tradeId
	}
	_, ok, err := store.SwapJSON(ctx, m.store, store.ListingKey(listing.Id), raw, &updated)
	if err != nil {
		return false, errs.Wrap(errs.KindPersistenceUnavailable, err, "update listing %s", listing.Id)
	}
	if !ok {
		return false, nil
	}
	*listing = updated
	m.unindex(ctx, listing.Id)
	m.metrics.ObserveListing(string(next))
	return true, nil
}

func (m *Manager) unindex(ctx context.Context, id string) {
	if err := m.store.SRem(ctx, store.SetActiveListings, id); err != nil {
		zap.L().Warn("Failed to remove listing from active index", zap.String("listing_id", id), zap.Error(err))
	}
}

func (m *Manager) loadListing(ctx context.Context, id string) (*models.Listing, []byte, error) {
	raw, err := m.store.Get(ctx, store.ListingKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, errs.New(errs.KindNotFound, "listing %s not found", id)
	}
	if err != nil {
		return nil, nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "load listing %s", id)
	}
	var listing models.Listing
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, nil, fmt.Errorf("decode listing %s: %w", id, err)
	}
	return &listing, raw, nil
}
