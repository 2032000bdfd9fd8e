package stats

import (
	"context"
	"testing"
	"time"

	"energy-ledger-go/internal/database"
	"energy-ledger-go/internal/gateway"
	"energy-ledger-go/internal/identity"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/meter"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"github.com/shopspring/decimal"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setupStats(t *testing.T) (*Service, store.KVStore) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:         ":memory:",
		MaxOpenConns: 1,
		PingTimeout:  time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(db.Close)

	svc := NewService(db)
	svc.now = func() time.Time { return base.Add(30 * time.Minute) }
	return svc, db
}

func put(t *testing.T, s store.KVStore, id, key string, v any, sets ...string) {
	t.Helper()
	ctx := context.Background()
	if err := store.SetJSON(ctx, s, key, v); err != nil {
		t.Fatalf("SetJSON %s: %v", key, err)
	}
	for _, set := range sets {
		if err := s.SAdd(ctx, set, id); err != nil {
			t.Fatalf("SAdd %s: %v", set, err)
		}
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestEnergyStats_MintBurnRoundTrip(t *testing.T) {
	svc, db := setupStats(t)
	ctx := context.Background()

	sim := ledger.NewSimulator()
	gw := gateway.NewGateway(sim, models.LedgerConfig{TokenId: "KWH", CallTimeout: time.Second}, nil)
	bridge := identity.NewBridge(db, gw, identity.Config{}, nil)
	account, err := bridge.ResolveOrCreateAccount(ctx, "0xHOME")
	if err != nil {
		t.Fatalf("ResolveOrCreateAccount: %v", err)
	}
	proc := meter.NewProcessor(db, gw, bridge, nil, 1, nil)

	readings := []models.MeterReading{
		{MeterId: "PV-1", AccountId: account, MeterType: models.MeterTypeProduction, EnergyAmount: dec("12.5"), EnergySource: "solar", Timestamp: base, Verified: true},
		{MeterId: "LOAD-1", AccountId: account, MeterType: models.MeterTypeConsumption, EnergyAmount: dec("12.5"), EnergySource: "grid", Timestamp: base, Verified: true},
	}
	for _, r := range readings {
		if _, err := proc.Process(ctx, r); err != nil {
			t.Fatalf("Process %s: %v", r.MeterId, err)
		}
	}

	global, err := svc.EnergyStats(ctx)
	if err != nil {
		t.Fatalf("EnergyStats: %v", err)
	}
	if !global.NetBalance.IsZero() || global.MintCount != 1 || global.BurnCount != 1 {
		t.Errorf("expected zero net with one mint and one burn, got %+v", global)
	}
	if !global.TotalMinted.Equal(dec("12.5")) {
		t.Errorf("expected 12.5 minted, got %s", global.TotalMinted)
	}

	perAccount, err := svc.AccountEnergyStats(ctx, account)
	if err != nil {
		t.Fatalf("AccountEnergyStats: %v", err)
	}
	if !perAccount.NetBalance.IsZero() {
		t.Errorf("expected zero account net, got %s", perAccount.NetBalance)
	}
	balance, err := gw.BalanceOf(ctx, account)
	if err != nil {
		t.Fatalf("BalanceOf: %v", err)
	}
	if !balance.IsZero() {
		t.Errorf("expected zero ledger balance after round trip, got %s", balance)
	}
}

func TestAccountRecords_NewestFirst(t *testing.T) {
	svc, db := setupStats(t)
	ctx := context.Background()

	for i, amount := range []string{"1", "2", "3"} {
		r := models.LedgerRecord{
			Id:           "r" + amount,
			Kind:         models.RecordKindMint,
			AccountId:    "acct-1",
			EnergyAmount: dec(amount),
			TokenAmount:  dec(amount),
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
		}
		put(t, db, r.Id, store.RecordKey(r.Id), r, store.SetMintRecords, store.AccountMintsSet("acct-1"))
	}
	// Indexed but never written.
	if err := db.SAdd(ctx, store.AccountMintsSet("acct-1"), "ghost"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}

	records, err := svc.AccountMintRecords(ctx, "acct-1")
	if err != nil {
		t.Fatalf("AccountMintRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Id != "r3" || records[2].Id != "r1" {
		t.Errorf("expected newest first, got %s..%s", records[0].Id, records[2].Id)
	}

	burns, err := svc.AccountBurnRecords(ctx, "acct-1")
	if err != nil || len(burns) != 0 {
		t.Errorf("expected no burns, got %d, %v", len(burns), err)
	}
}

func TestTradingStats(t *testing.T) {
	svc, db := setupStats(t)
	ctx := context.Background()

	listings := []models.Listing{
		{Id: "l1", SellerId: "s", State: models.ListingFulfilled, CreatedAt: base, ExpiresAt: base.Add(time.Hour)},
		{Id: "l2", SellerId: "s", State: models.ListingActive, CreatedAt: base.Add(time.Minute), ExpiresAt: base.Add(time.Hour)},
		{Id: "l3", SellerId: "s", State: models.ListingActive, CreatedAt: base.Add(2 * time.Minute), ExpiresAt: base.Add(10 * time.Minute)},
	}
	for _, l := range listings {
		sets := []string{store.SetAllListings, store.UserListingsSet(l.SellerId)}
		if l.State == models.ListingActive {
			sets = append(sets, store.SetActiveListings)
		}
		put(t, db, l.Id, store.ListingKey(l.Id), l, sets...)
	}
	trades := []models.Trade{
		{Id: "t1", ListingId: "l1", BuyerId: "b", SellerId: "s", EnergyAmount: dec("50"), PricePerUnit: dec("0.10"), TotalPrice: dec("5"), State: models.TradeCompleted, CreatedAt: base},
		{Id: "t2", ListingId: "lx", BuyerId: "b", SellerId: "s", EnergyAmount: dec("10"), PricePerUnit: dec("0.30"), TotalPrice: dec("3"), State: models.TradeFailed, CreatedAt: base.Add(time.Minute)},
	}
	for _, tr := range trades {
		put(t, db, tr.Id, store.TradeKey(tr.Id), tr, store.SetAllTrades, store.UserTradesSet(tr.BuyerId), store.UserTradesSet(tr.SellerId))
	}

	stats, err := svc.TradingStats(ctx)
	if err != nil {
		t.Fatalf("TradingStats: %v", err)
	}
	if stats.TotalListings != 3 || stats.ActiveListings != 1 {
		t.Errorf("expected 3 listings with 1 active, got %d/%d", stats.TotalListings, stats.ActiveListings)
	}
	if stats.TotalTrades != 2 || stats.CompletedTrades != 1 || stats.FailedTrades != 1 {
		t.Errorf("unexpected trade counts: %+v", stats)
	}
	if !stats.TotalVolume.Equal(dec("5")) || !stats.TotalEnergyTrade.Equal(dec("50")) {
		t.Errorf("expected volume 5 over 50 kWh, got %s over %s", stats.TotalVolume, stats.TotalEnergyTrade)
	}
	if !stats.AveragePrice.Equal(dec("0.1")) {
		t.Errorf("expected average price 0.1, got %s", stats.AveragePrice)
	}

	count, err := svc.ActiveListingCount(ctx)
	if err != nil || count != 1 {
		t.Errorf("expected 1 active listing, got %d, %v", count, err)
	}

	userTrades, err := svc.UserTrades(ctx, "b")
	if err != nil {
		t.Fatalf("UserTrades: %v", err)
	}
	if len(userTrades) != 2 || userTrades[0].Id != "t2" {
		t.Errorf("expected buyer trades newest first, got %+v", userTrades)
	}
	userListings, err := svc.UserListings(ctx, "s")
	if err != nil {
		t.Fatalf("UserListings: %v", err)
	}
	if len(userListings) != 3 || userListings[0].Id != "l3" {
		t.Errorf("expected seller listings newest first, got %d", len(userListings))
	}
}
