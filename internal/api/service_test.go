package api

import (
	"context"
	"testing"
	"time"

	"energy-ledger-go/internal/database"
	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/gateway"
	"energy-ledger-go/internal/identity"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/meter"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/stats"

	"github.com/shopspring/decimal"
)

var readingTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupEngine(t *testing.T) *EngineService {
	t.Helper()
	ctx := context.Background()
	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(db.Close)

	gw := gateway.NewGateway(ledger.NewSimulator(), models.LedgerConfig{TokenId: "KWH", CallTimeout: time.Second}, nil)
	bridge := identity.NewBridge(db, gw, identity.Config{InitialFunding: decimal.NewFromInt(1)}, nil)
	mgr := market.NewManager(db, gw, bridge, nil, market.Config{DefaultTTL: time.Hour}, nil)
	proc := meter.NewProcessor(db, gw, bridge, nil, 2, nil)
	return NewEngineService(db, bridge, mgr, proc, stats.NewService(db))
}

func mustAccount(t *testing.T, svc *EngineService, wallet string) string {
	t.Helper()
	res := svc.CreateAccountForWallet(context.Background(), wallet)
	if !res.Success {
		t.Fatalf("create-account-for-wallet %s: %s", wallet, res.Error)
	}
	return res.Data.(models.WalletMappingStatus).LedgerAccountId
}

func produce(t *testing.T, svc *EngineService, accountId, amount string) {
	t.Helper()
	res := svc.ProcessReading(context.Background(), models.MeterReading{
		MeterId:      "PV-" + accountId,
		AccountId:    accountId,
		MeterType:    models.MeterTypeProduction,
		EnergyAmount: decimal.RequireFromString(amount),
		EnergySource: "solar",
		Timestamp:    readingTime,
		Verified:     true,
	})
	if !res.Success || res.LedgerTransactionId == "" {
		t.Fatalf("process-reading: %+v", res)
	}
}

func TestHealthCheck(t *testing.T) {
	svc := setupEngine(t)
	if err := svc.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestWalletOperations(t *testing.T) {
	svc := setupEngine(t)
	ctx := context.Background()

	res := svc.CheckWalletMapping(ctx, "0xABC")
	if !res.Success || res.Data.(models.WalletMappingStatus).Mapped {
		t.Fatalf("expected unmapped wallet, got %+v", res)
	}
	first := mustAccount(t, svc, "0xABC")
	second := mustAccount(t, svc, "0xABC")
	if first != second {
		t.Errorf("expected the same account, got %s and %s", first, second)
	}
	res = svc.CheckWalletMapping(ctx, "0xABC")
	if status := res.Data.(models.WalletMappingStatus); !status.Mapped || status.LedgerAccountId != first {
		t.Errorf("unexpected mapping status %+v", status)
	}

	res = svc.AssociateTokenForWallet(ctx, "0xABC")
	if !res.Success {
		t.Errorf("expected repeated association to succeed, got %s", res.Error)
	}
	res = svc.AssociateTokenForWallet(ctx, "0xNOBODY")
	if res.Success || res.ErrorKind != string(errs.KindNotFound) {
		t.Errorf("expected NOT_FOUND for unknown wallet, got %+v", res)
	}
	res = svc.CreateAccountForWallet(ctx, "")
	if res.Success || res.ErrorKind != string(errs.KindInvalidInput) {
		t.Errorf("expected INVALID_INPUT for empty wallet, got %+v", res)
	}
}

func TestListingAndTradeFlow(t *testing.T) {
	svc := setupEngine(t)
	ctx := context.Background()
	seller := mustAccount(t, svc, "0xSELLER")
	buyer := mustAccount(t, svc, "0xBUYER")
	produce(t, svc, seller, "60")

	res := svc.CreateListing(ctx, models.CreateListingRequest{
		SellerId: seller, EnergyAmount: "abc", PricePerUnit: "0.10", EnergySource: "solar",
	})
	if res.Success || res.ErrorKind != string(errs.KindInvalidInput) {
		t.Errorf("expected INVALID_INPUT for bad amount, got %+v", res)
	}
	res = svc.CreateListing(ctx, models.CreateListingRequest{
		SellerId: seller, EnergyAmount: "50", PricePerUnit: "0.10", EnergySource: "solar", TTL: "nonsense",
	})
	if res.Success || res.ErrorKind != string(errs.KindInvalidInput) {
		t.Errorf("expected INVALID_INPUT for bad ttl, got %+v", res)
	}

	res = svc.CreateListing(ctx, models.CreateListingRequest{
		SellerId: seller, EnergyAmount: "50", PricePerUnit: "0.10", EnergySource: "solar", TTL: "2h",
	})
	if !res.Success {
		t.Fatalf("create-listing: %s", res.Error)
	}
	listing := res.Data.(*models.Listing)

	res = svc.CancelListing(ctx, listing.Id, buyer)
	if res.Success || res.ErrorCode != errs.CodeNotOwner {
		t.Errorf("expected NOT_OWNER, got %+v", res)
	}

	res = svc.ListActive(ctx)
	if active := res.Data.([]models.Listing); len(active) != 1 {
		t.Fatalf("expected one active listing, got %d", len(active))
	}

	res = svc.ExecuteTrade(ctx, listing.Id, buyer)
	if !res.Success || res.LedgerTransactionId == "" {
		t.Fatalf("execute-trade: %+v", res)
	}
	res = svc.ExecuteTrade(ctx, listing.Id, buyer)
	if res.Success || res.ErrorCode != errs.CodeAlreadyTraded {
		t.Errorf("expected ALREADY_TRADED, got %+v", res)
	}
	res = svc.CancelListing(ctx, listing.Id, seller)
	if res.Success || res.ErrorCode != errs.CodeNotActive {
		t.Errorf("expected NOT_ACTIVE after fulfillment, got %+v", res)
	}

	res = svc.GetUserTrades(ctx, buyer)
	if trades := res.Data.([]models.Trade); len(trades) != 1 || trades[0].State != models.TradeCompleted {
		t.Errorf("unexpected buyer trades %+v", trades)
	}
	res = svc.GetUserListings(ctx, seller)
	if listings := res.Data.([]models.Listing); len(listings) != 1 {
		t.Errorf("expected one seller listing, got %d", len(listings))
	}
	res = svc.GetTradingStats(ctx)
	st := res.Data.(*models.TradingStats)
	if st.CompletedTrades != 1 || !st.TotalVolume.Equal(decimal.NewFromInt(5)) {
		t.Errorf("unexpected trading stats %+v", st)
	}
}

func TestProcessReadings_PerItemResults(t *testing.T) {
	svc := setupEngine(t)
	ctx := context.Background()
	account := mustAccount(t, svc, "0xHOME")

	readings := []models.MeterReading{
		{MeterId: "M1", AccountId: account, MeterType: models.MeterTypeProduction, EnergyAmount: decimal.NewFromInt(10), EnergySource: "solar", Timestamp: readingTime, Verified: true},
		{MeterId: "M2", AccountId: account, MeterType: models.MeterTypeProduction, EnergyAmount: decimal.NewFromInt(3), EnergySource: "wind", Timestamp: readingTime, Verified: false},
		{MeterId: "M3", AccountId: account, MeterType: models.MeterTypeConsumption, EnergyAmount: decimal.NewFromInt(4), EnergySource: "grid", Timestamp: readingTime, Verified: true},
	}
	res := svc.ProcessReadings(ctx, readings)
	if res.Success || res.ErrorKind != string(errs.KindInvalidInput) {
		t.Fatalf("expected partial failure envelope, got %+v", res)
	}
	items := res.Data.([]models.BatchItemResult)
	if len(items) != 3 || !items[0].Success || items[1].Success || !items[2].Success {
		t.Fatalf("unexpected per-item results %+v", items)
	}

	res = svc.GetEnergyStats(ctx, account)
	st := res.Data.(*models.EnergyStats)
	if !st.NetBalance.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected net 6, got %s", st.NetBalance)
	}
	res = svc.GetAccountMintRecords(ctx, account)
	if records := res.Data.([]models.LedgerRecord); len(records) != 1 {
		t.Errorf("expected one mint record, got %d", len(records))
	}
	res = svc.GetAccountBurnRecords(ctx, account)
	if records := res.Data.([]models.LedgerRecord); len(records) != 1 {
		t.Errorf("expected one burn record, got %d", len(records))
	}
	if res := svc.ProcessReadings(ctx, nil); res.Success {
		t.Error("expected empty batch to be rejected")
	}
}

func TestProfiles(t *testing.T) {
	svc := setupEngine(t)
	ctx := context.Background()
	account := mustAccount(t, svc, "0xHOME")

	res := svc.RegisterProfile(ctx, models.RegisterProfileRequest{AccountId: account, DisplayName: "Home", IsConsumer: true})
	if !res.Success {
		t.Fatalf("register-profile: %s", res.Error)
	}
	res = svc.GetProfile(ctx, account)
	if p := res.Data.(*models.UserProfile); p.DisplayName != "Home" || !p.IsConsumer {
		t.Errorf("unexpected profile %+v", p)
	}
	res = svc.GetProfile(ctx, "unknown")
	if res.Success || res.ErrorKind != string(errs.KindNotFound) {
		t.Errorf("expected NOT_FOUND, got %+v", res)
	}
}
