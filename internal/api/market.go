package api

import (
	"context"
	"time"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreateListing parses the seller request and creates an Active listing.
func (s *EngineService) CreateListing(ctx context.Context, req models.CreateListingRequest) models.Result {
	params, err := listingParams(req)
	if err != nil {
		return fail(ctx, "create-listing", err)
	}
	listing, err := s.market.CreateListing(ctx, params)
	if err != nil {
		return fail(ctx, "create-listing", err)
	}
	return ok(listing)
}

func listingParams(req models.CreateListingRequest) (market.ListingParams, error) {
	amount, err := decimal.NewFromString(req.EnergyAmount)
	if err != nil {
		return market.ListingParams{}, errs.New(errs.KindInvalidInput, "invalid energy amount %q", req.EnergyAmount)
	}
	price, err := decimal.NewFromString(req.PricePerUnit)
	if err != nil {
		return market.ListingParams{}, errs.New(errs.KindInvalidInput, "invalid price per unit %q", req.PricePerUnit)
	}
	var ttl time.Duration
	if req.TTL != "" {
		ttl, err = time.ParseDuration(req.TTL)
		if err != nil || ttl <= 0 {
			return market.ListingParams{}, errs.New(errs.KindInvalidInput, "invalid ttl %q", req.TTL)
		}
	}
	return market.ListingParams{
		SellerId:     req.SellerId,
		EnergyAmount: amount,
		PricePerUnit: price,
		EnergySource: req.EnergySource,
		Location:     req.Location,
		TTL:          ttl,
	}, nil
}

func (s *EngineService) ListActive(ctx context.Context) models.Result {
	listings, err := s.market.ListActive(ctx)
	if err != nil {
		return fail(ctx, "list-active", err)
	}
	return ok(listings)
}

func (s *EngineService) GetListing(ctx context.Context, listingId string) models.Result {
	listing, err := s.market.GetListing(ctx, listingId)
	if err != nil {
		return fail(ctx, "get-listing", err)
	}
	return ok(listing)
}

// CancelListing cancels on behalf of callerId. A refused cancel is reported
// with NOT_OWNER or NOT_ACTIVE.
func (s *EngineService) CancelListing(ctx context.Context, listingId, callerId string) models.Result {
	cancelled, err := s.market.Cancel(ctx, listingId, callerId)
	if err != nil {
		return fail(ctx, "cancel-listing", err)
	}
	if cancelled {
		return ok(map[string]any{"listing_id": listingId, "cancelled": true})
	}

	listing, err := s.market.GetListing(ctx, listingId)
	if err != nil {
		return fail(ctx, "cancel-listing", err)
	}
	if listing.SellerId != callerId {
		return fail(ctx, "cancel-listing", errs.State(errs.CodeNotOwner, "listing %s belongs to another seller", listingId))
	}
	return fail(ctx, "cancel-listing", errs.State(errs.CodeNotActive, "listing %s is %s", listingId, listing.State))
}

// ExecuteTrade settles listingId for buyerId. A failed settlement still
// returns the Failed trade in Data.
func (s *EngineService) ExecuteTrade(ctx context.Context, listingId, buyerId string) models.Result {
	trade, err := s.market.ExecuteTrade(ctx, listingId, buyerId)
	if err != nil {
		res := fail(ctx, "execute-trade", err)
		if trade != nil {
			res.Data = trade
			res.LedgerTransactionId = trade.LedgerTransactionId
		}
		return res
	}
	zap.L().Info("Trade executed via API",
		zap.String("trade_id", trade.Id),
		zap.String("request_id", models.GetRequestId(ctx)))
	return okTx(trade.LedgerTransactionId, trade)
}

func (s *EngineService) GetUserTrades(ctx context.Context, accountId string) models.Result {
	if accountId == "" {
		return fail(ctx, "get-user-trades", errs.New(errs.KindInvalidInput, "account id is required"))
	}
	trades, err := s.stats.UserTrades(ctx, accountId)
	if err != nil {
		return fail(ctx, "get-user-trades", err)
	}
	return ok(trades)
}

func (s *EngineService) GetUserListings(ctx context.Context, accountId string) models.Result {
	if accountId == "" {
		return fail(ctx, "get-user-listings", errs.New(errs.KindInvalidInput, "account id is required"))
	}
	listings, err := s.stats.UserListings(ctx, accountId)
	if err != nil {
		return fail(ctx, "get-user-listings", err)
	}
	return ok(listings)
}

func (s *EngineService) GetTradingStats(ctx context.Context) models.Result {
	st, err := s.stats.TradingStats(ctx)
	if err != nil {
		return fail(ctx, "get-trading-stats", err)
	}
	return ok(st)
}
