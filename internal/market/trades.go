package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const profileUpdateAttempts = 20

// ExecuteTrade claims listingId for buyerId and settles it with a single ledger
// transfer. The listing is claimed before the transfer is attempted, so
// concurrent buyers race on the claim and every loser gets AlreadyTraded.
//
// When the transfer fails the trade is returned in the Failed state together
// with the ledger error, and the listing stays Fulfilled.
func (m *Manager) ExecuteTrade(ctx context.Context, listingId, buyerId string) (*models.Trade, error) {
	if listingId == "" || buyerId == "" {
		return nil, errs.New(errs.KindInvalidInput, "listing id and buyer id are required")
	}

	listing, raw, err := m.loadListing(ctx, listingId)
	if err != nil {
		return nil, err
	}
	if err := m.checkTradable(ctx, listing, raw, buyerId); err != nil {
		return nil, err
	}

	if m.assoc != nil {
		if err := m.assoc.EnsureAssociated(ctx, buyerId); err != nil {
			return nil, fmt.Errorf("prepare buyer %s: %w", buyerId, err)
		}
		// Association may take a ledger round trip; the listing can expire meanwhile.
		if err := m.checkTradable(ctx, listing, raw, buyerId); err != nil {
			return nil, err
		}
	}

	now := m.now().UTC()
	trade := &models.Trade{
		Id:           uuid.New().String(),
		ListingId:    listing.Id,
		BuyerId:      buyerId,
		SellerId:     listing.SellerId,
		EnergyAmount: listing.EnergyAmount,
		PricePerUnit: listing.PricePerUnit,
		TotalPrice:   listing.EnergyAmount.Mul(listing.PricePerUnit),
		EnergySource: listing.EnergySource,
		State:        models.TradePending,
		CreatedAt:    now,
	}
	// The trade record exists before the claim so a claimed listing never
	// points at a missing trade.
	if _, err := store.SetJSONIfAbsent(ctx, m.store, store.TradeKey(trade.Id), trade); err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "persist trade %s", trade.Id)
	}

	// The outcome must be recorded even if the caller has gone away.
	finalizeCtx := context.WithoutCancel(ctx)

	claimed, err := m.transition(ctx, listing, raw, models.ListingFulfilled, trade.Id)
	if err != nil {
		// The claim may or may not have landed; keep the record and close it.
		return m.failUnsettled(finalizeCtx, trade, err)
	}
	if !claimed {
		m.discardTrade(finalizeCtx, trade.Id)
		return nil, m.claimLost(ctx, listingId)
	}

	if err := m.indexTrade(finalizeCtx, trade); err != nil {
		return m.failUnsettled(finalizeCtx, trade, err)
	}

	logger := zap.L().With(
		zap.String("trade_id", trade.Id),
		zap.String("listing_id", listing.Id),
		zap.String("buyer_id", buyerId),
		zap.String("seller_id", listing.SellerId))
	logger.Info("Listing claimed, settling trade", zap.String("energy_amount", trade.EnergyAmount.String()))

	memo := fmt.Sprintf("Energy trade %s: %s kWh @ %s", trade.Id, trade.EnergyAmount, trade.PricePerUnit)
	txId, transferErr := m.ledger.Transfer(ctx, m.transferSource(listing), buyerId, trade.EnergyAmount, memo, trade.Id)

	if transferErr != nil {
		logger.Error("Trade settlement failed", zap.Error(transferErr))
		failed, err := m.finalize(finalizeCtx, trade, func(t *models.Trade) {
			t.State = models.TradeFailed
			t.FailureReason = transferErr.Error()
		})
		if err != nil {
			logger.Error("Failed to record trade failure", zap.Error(err))
		}
		m.metrics.ObserveTrade(string(models.TradeFailed))
		return failed, transferErr
	}

	completed, err := m.finalize(finalizeCtx, trade, func(t *models.Trade) {
		done := m.now().UTC()
		t.State = models.TradeCompleted
		t.LedgerTransactionId = txId
		t.CompletedAt = &done
	})
	m.metrics.ObserveTrade(string(models.TradeCompleted))
	if err != nil {
		// The transfer happened; report it and leave the record for reconciliation.
		logger.Error("Failed to record trade completion", zap.String("ledger_transaction_id", txId), zap.Error(err))
		return completed, err
	}
	m.recordParticipants(finalizeCtx, completed)

	logger.Info("Trade completed", zap.String("ledger_transaction_id", txId))
	return completed, nil
}

func (m *Manager) checkTradable(ctx context.Context, listing *models.Listing, raw []byte, buyerId string) error {
	switch listing.State {
	case models.ListingFulfilled:
		return errs.State(errs.CodeAlreadyTraded, "listing %s already traded", listing.Id)
	case models.ListingActive:
	default:
		return errs.State(errs.CodeNotActive, "listing %s is %s", listing.Id, listing.State)
	}
	if !m.now().Before(listing.ExpiresAt) {
		if _, err := m.expire(ctx, listing, raw); err != nil {
			zap.L().Warn("Lazy expiry failed", zap.String("listing_id", listing.Id), zap.Error(err))
		}
		return errs.State(errs.CodeExpired, "listing %s expired at %s", listing.Id, listing.ExpiresAt.Format(time.RFC3339))
	}
	if listing.SellerId == buyerId {
		return errs.State(errs.CodeSelfTrade, "seller %s cannot buy own listing", buyerId)
	}
	return nil
}

// claimLost explains why a conditional claim did not land.
func (m *Manager) claimLost(ctx context.Context, listingId string) error {
	current, _, err := m.loadListing(ctx, listingId)
	if err != nil {
		return err
	}
	switch current.State {
	case models.ListingFulfilled:
		return errs.State(errs.CodeAlreadyTraded, "listing %s already traded", listingId)
	case models.ListingExpired:
		return errs.State(errs.CodeExpired, "listing %s expired", listingId)
	case models.ListingActive:
		// Someone rewrote the record without a state change; treat as a lost race.
		return errs.Wrap(errs.KindPersistenceUnavailable, store.ErrConcurrentModification, "claim listing %s", listingId)
	default:
		return errs.State(errs.CodeNotActive, "listing %s is %s", listingId, current.State)
	}
}

func (m *Manager) transferSource(listing *models.Listing) string {
	if m.cfg.EscrowAccount != "" {
		return m.cfg.EscrowAccount
	}
	return listing.SellerId
}

// indexTrade adds a claimed trade to the global and participant indexes.
func (m *Manager) indexTrade(ctx context.Context, trade *models.Trade) error {
	for _, set := range []string{store.SetAllTrades, store.UserTradesSet(trade.BuyerId), store.UserTradesSet(trade.SellerId)} {
		if err := m.store.SAdd(ctx, set, trade.Id); err != nil {
			return errs.Wrap(errs.KindPersistenceUnavailable, err, "index trade %s", trade.Id)
		}
	}
	m.metrics.ObserveTrade(string(models.TradePending))
	return nil
}

// failUnsettled closes a trade that never reached the ledger.
func (m *Manager) failUnsettled(ctx context.Context, trade *models.Trade, cause error) (*models.Trade, error) {
	zap.L().Error("Trade failed before settlement", zap.String("trade_id", trade.Id), zap.String("listing_id", trade.ListingId), zap.Error(cause))
	failed, err := m.finalize(ctx, trade, func(t *models.Trade) {
		t.State = models.TradeFailed
		t.FailureReason = cause.Error()
	})
	if err != nil {
		zap.L().Error("Failed to record trade failure", zap.String("trade_id", trade.Id), zap.Error(err))
	}
	m.metrics.ObserveTrade(string(models.TradeFailed))
	return failed, cause
}

// discardTrade removes the record of a trade whose claim never landed. The
// record is unindexed, so a failed delete leaves nothing visible.
func (m *Manager) discardTrade(ctx context.Context, tradeId string) {
	if err := m.store.Delete(ctx, store.TradeKey(tradeId)); err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Warn("Failed to discard unclaimed trade", zap.String("trade_id", tradeId), zap.Error(err))
	}
}

// finalize moves a Pending trade to a terminal state. A trade already terminal
// is returned unchanged.
func (m *Manager) finalize(ctx context.Context, trade *models.Trade, apply func(*models.Trade)) (*models.Trade, error) {
	var result models.Trade
	err := store.Update(ctx, m.store, store.TradeKey(trade.Id), profileUpdateAttempts, func(t *models.Trade) error {
		if t.Id == "" {
			*t = *trade
		}
		if !t.State.Terminal() {
			apply(t)
		}
		result = *t
		return nil
	})
	if err != nil {
		local := *trade
		apply(&local)
		return &local, errs.Wrap(errs.KindPersistenceUnavailable, err, "finalize trade %s", trade.Id)
	}
	return &result, nil
}

func (m *Manager) recordParticipants(ctx context.Context, trade *models.Trade) {
	update := func(accountId string, fn func(*models.UserProfile)) {
		err := store.Update(ctx, m.store, store.ProfileKey(accountId), profileUpdateAttempts, func(p *models.UserProfile) error {
			now := m.now().UTC()
			if p.AccountId == "" {
				p.AccountId = accountId
				p.CreatedAt = now
			}
			fn(p)
			p.TotalVolume = p.TotalVolume.Add(trade.TotalPrice)
			p.TradeCount++
			p.UpdatedAt = now
			return nil
		})
		if err != nil {
			zap.L().Warn("Failed to update participant stats",
				zap.String("account_id", accountId),
				zap.String("trade_id", trade.Id),
				zap.Error(err))
		}
	}
	update(trade.SellerId, func(p *models.UserProfile) {
		p.TotalEnergySold = p.TotalEnergySold.Add(trade.EnergyAmount)
	})
	update(trade.BuyerId, func(p *models.UserProfile) {
		p.TotalEnergyBought = p.TotalEnergyBought.Add(trade.EnergyAmount)
	})
}

// GetTrade loads a trade by id.
func (m *Manager) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	raw, err := m.store.Get(ctx, store.TradeKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "trade %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "load trade %s", id)
	}
	var trade models.Trade
	if err := json.Unmarshal(raw, &trade); err != nil {
		return nil, fmt.Errorf("decode trade %s: %w", id, err)
	}
	return &trade, nil
}
