// Package stats holds read-side projections over listings, trades and ledger
// records. Nothing here writes to the store.
package stats

import (
	"context"
	"errors"
	"sort"
	"time"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const loadConcurrency = 16

type Service struct {
	store store.KVStore
	now   func() time.Time
}

func NewService(s store.KVStore) *Service {
	return &Service{store: s, now: time.Now}
}

// ActiveListingCount counts listings that are Active and not yet past their deadline.
func (s *Service) ActiveListingCount(ctx context.Context) (int, error) {
	listings, err := s.listingsIn(ctx, store.SetActiveListings)
	if err != nil {
		return 0, err
	}
	now := s.now()
	n := 0
	for _, l := range listings {
		if l.State == models.ListingActive && now.Before(l.ExpiresAt) {
			n++
		}
	}
	return n, nil
}

// UserTrades returns every trade the account took part in, newest first.
func (s *Service) UserTrades(ctx context.Context, accountId string) ([]models.Trade, error) {
	trades, err := s.tradesIn(ctx, store.UserTradesSet(accountId))
	if err != nil {
		return nil, err
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].CreatedAt.After(trades[j].CreatedAt) })
	return trades, nil
}

// UserListings returns every listing the account created, newest first.
func (s *Service) UserListings(ctx context.Context, accountId string) ([]models.Listing, error) {
	listings, err := s.listingsIn(ctx, store.UserListingsSet(accountId))
	if err != nil {
		return nil, err
	}
	sort.Slice(listings, func(i, j int) bool { return listings[i].CreatedAt.After(listings[j].CreatedAt) })
	return listings, nil
}

// TradingStats aggregates the whole market. Volume and energy count completed trades only.
func (s *Service) TradingStats(ctx context.Context) (*models.TradingStats, error) {
	var (
		listings []models.Listing
		trades   []models.Trade
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		listings, err = s.listingsIn(gctx, store.SetAllListings)
		return err
	})
	g.Go(func() error {
		var err error
		trades, err = s.tradesIn(gctx, store.SetAllTrades)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	stats := &models.TradingStats{TotalListings: len(listings), TotalTrades: len(trades)}
	for _, l := range listings {
		if l.State == models.ListingActive && now.Before(l.ExpiresAt) {
			stats.ActiveListings++
		}
	}
	for _, t := range trades {
		switch t.State {
		case models.TradeCompleted:
			stats.CompletedTrades++
			stats.TotalEnergyTrade = stats.TotalEnergyTrade.Add(t.EnergyAmount)
			stats.TotalVolume = stats.TotalVolume.Add(t.TotalPrice)
		case models.TradeFailed:
			stats.FailedTrades++
		}
	}
	if stats.TotalEnergyTrade.IsPositive() {
		stats.AveragePrice = stats.TotalVolume.DivRound(stats.TotalEnergyTrade, 4)
	}
	return stats, nil
}

// AccountMintRecords returns the account's mint records, newest first.
func (s *Service) AccountMintRecords(ctx context.Context, accountId string) ([]models.LedgerRecord, error) {
	return s.recordsIn(ctx, store.AccountMintsSet(accountId))
}

// AccountBurnRecords returns the account's burn records, newest first.
func (s *Service) AccountBurnRecords(ctx context.Context, accountId string) ([]models.LedgerRecord, error) {
	return s.recordsIn(ctx, store.AccountBurnsSet(accountId))
}

// EnergyStats aggregates every mint and burn record. NetBalance is minted minus burned.
func (s *Service) EnergyStats(ctx context.Context) (*models.EnergyStats, error) {
	return s.energyStats(ctx, store.SetMintRecords, store.SetBurnRecords)
}

func (s *Service) AccountEnergyStats(ctx context.Context, accountId string) (*models.EnergyStats, error) {
	return s.energyStats(ctx, store.AccountMintsSet(accountId), store.AccountBurnsSet(accountId))
}

func (s *Service) energyStats(ctx context.Context, mintSet, burnSet string) (*models.EnergyStats, error) {
	var mints, burns []models.LedgerRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		mints, err = load[models.LedgerRecord](gctx, s.store, mintSet, store.RecordKey)
		return err
	})
	g.Go(func() error {
		var err error
		burns, err = load[models.LedgerRecord](gctx, s.store, burnSet, store.RecordKey)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &models.EnergyStats{MintCount: len(mints), BurnCount: len(burns)}
	for _, r := range mints {
		stats.TotalMinted = stats.TotalMinted.Add(r.TokenAmount)
	}
	for _, r := range burns {
		stats.TotalBurned = stats.TotalBurned.Add(r.TokenAmount)
	}
	stats.NetBalance = stats.TotalMinted.Sub(stats.TotalBurned)
	return stats, nil
}

func (s *Service) listingsIn(ctx context.Context, set string) ([]models.Listing, error) {
	return load[models.Listing](ctx, s.store, set, store.ListingKey)
}

func (s *Service) tradesIn(ctx context.Context, set string) ([]models.Trade, error) {
	return load[models.Trade](ctx, s.store, set, store.TradeKey)
}

func (s *Service) recordsIn(ctx context.Context, set string) ([]models.LedgerRecord, error) {
	records, err := load[models.LedgerRecord](ctx, s.store, set, store.RecordKey)
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	return records, nil
}

// load resolves every member of set to its document. Members whose document
// is missing are skipped; the index may briefly run ahead of the documents.
func load[T any](ctx context.Context, s store.KVStore, set string, key func(string) string) ([]T, error) {
	ids, err := s.SMembers(ctx, set)
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "read index %s", set)
	}

	docs := make([]*T, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			var doc T
			_, err := store.GetJSON(gctx, s, key(id), &doc)
			if errors.Is(err, store.ErrNotFound) {
				zap.L().Debug("Index member without document", zap.String("set", set), zap.String("id", id))
				return nil
			}
			if err != nil {
				return errs.Wrap(errs.KindPersistenceUnavailable, err, "load %s", key(id))
			}
			docs[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(docs))
	for _, d := range docs {
		if d != nil {
			out = append(out, *d)
		}
	}
	return out, nil
}
