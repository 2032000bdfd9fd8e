package common

import (
	"context"
	"testing"
	"time"

	"energy-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testConfig() *models.Config {
	return &models.Config{
		Database: models.DatabaseConfig{Path: ":memory:", MaxOpenConns: 1, PingTimeout: time.Second},
		Store:    models.StoreConfig{Backend: "sqlite"},
		Ledger: models.LedgerConfig{
			Backend:        "simulator",
			TokenId:        "KWH",
			CallTimeout:    time.Second,
			InitialFunding: decimal.NewFromInt(1),
			EscrowAccount:  "escrow-operator",
		},
		Market: models.MarketConfig{DefaultTTL: time.Hour},
	}
}

func TestInitializeServices_Simulator(t *testing.T) {
	ctx := context.Background()
	services, err := InitializeServices(ctx, testConfig())
	if err != nil {
		t.Fatalf("InitializeServices: %v", err)
	}
	defer services.Close()

	if err := services.Engine.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
	for _, wallet := range []string{"0xB", "0xA"} {
		if res := services.Engine.CreateAccountForWallet(ctx, wallet); !res.Success {
			t.Fatalf("create-account-for-wallet: %s", res.Error)
		}
	}
	if _, err := services.Gateway.BalanceOf(ctx, "escrow-operator"); err != nil {
		t.Errorf("expected escrow account to exist in the simulator: %v", err)
	}

	mappings, err := InitializeWallets(ctx, services.Store, "", zap.NewNop())
	if err != nil {
		t.Fatalf("InitializeWallets: %v", err)
	}
	if len(mappings) != 2 || mappings[0].WalletAddress != "0xA" {
		t.Errorf("expected two sorted wallets, got %+v", mappings)
	}
	one, err := InitializeWallets(ctx, services.Store, "0xB", zap.NewNop())
	if err != nil || len(one) != 1 {
		t.Errorf("expected filtered wallet, got %v, %v", one, err)
	}
	if _, err := InitializeWallets(ctx, services.Store, "0xUNKNOWN", zap.NewNop()); err == nil {
		t.Error("expected error for unmapped wallet filter")
	}
}

func TestInitializeStore_Badger(t *testing.T) {
	cfg := testConfig()
	cfg.Store = models.StoreConfig{Backend: "badger"}
	kv, err := InitializeStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("InitializeStore: %v", err)
	}
	defer kv.Close()
	if err := kv.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestInitialize_UnknownBackends(t *testing.T) {
	cfg := testConfig()
	cfg.Store.Backend = "redis"
	if _, err := InitializeStore(context.Background(), cfg); err == nil {
		t.Error("expected unknown store backend error")
	}
	cfg.Ledger.Backend = "paper"
	if _, err := InitializeLedger(context.Background(), cfg); err == nil {
		t.Error("expected unknown ledger backend error")
	}
}

func TestFormat(t *testing.T) {
	if got := FormatKWh(decimal.RequireFromString("12.5")); got != "12.50 kWh" {
		t.Errorf("FormatKWh = %q", got)
	}
	if got := ShortId(""); got != "none" {
		t.Errorf("ShortId empty = %q", got)
	}
	if got := ShortId("acct-0123456789abcdef"); got != "acct-0123456..." {
		t.Errorf("ShortId long = %q", got)
	}
}
