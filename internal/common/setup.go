package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"energy-ledger-go/internal/api"
	"energy-ledger-go/internal/database"
	"energy-ledger-go/internal/formance"
	"energy-ledger-go/internal/gateway"
	"energy-ledger-go/internal/identity"
	"energy-ledger-go/internal/kvbadger"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/meter"
	"energy-ledger-go/internal/metrics"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/stats"
	"energy-ledger-go/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// A missing .env is fine; variables can come from the shell or the container.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Services bundles every engine component built from one configuration.
type Services struct {
	Store     store.KVStore
	Gateway   *gateway.Gateway
	Bridge    *identity.Bridge
	Market    *market.Manager
	Processor *meter.Processor
	Stats     *stats.Service
	Engine    *api.EngineService
	Sources   *EnergySources
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	kv, err := InitializeStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	l, err := InitializeLedger(ctx, cfg)
	if err != nil {
		kv.Close()
		return nil, err
	}

	var sources *EnergySources
	if cfg.Market.EnergySources != "" {
		sources, err = LoadEnergySources(cfg.Market.EnergySources)
		if err != nil {
			kv.Close()
			return nil, err
		}
		zap.L().Info("Loaded energy source catalogue",
			zap.String("file", cfg.Market.EnergySources),
			zap.Strings("sources", sources.Names()))
	}

	m := metrics.Engine()
	gw := gateway.NewGateway(l, cfg.Ledger, m)
	bridge := identity.NewBridge(kv, gw, identity.Config{
		InitialFunding:   cfg.Ledger.InitialFunding,
		ProvisionTimeout: cfg.Identity.ProvisionTimeout,
		PollInterval:     cfg.Identity.PollInterval,
	}, m)
	manager := market.NewManager(kv, gw, bridge, sources, market.Config{
		DefaultTTL:    cfg.Market.DefaultTTL,
		SweepInterval: cfg.Market.SweepInterval,
		EscrowAccount: cfg.Ledger.EscrowAccount,
	}, m)
	processor := meter.NewProcessor(kv, gw, bridge, sources, cfg.Meter.BatchConcurrency, m)
	statsService := stats.NewService(kv)

	return &Services{
		Store:     kv,
		Gateway:   gw,
		Bridge:    bridge,
		Market:    manager,
		Processor: processor,
		Stats:     statsService,
		Engine:    api.NewEngineService(kv, bridge, manager, processor, statsService),
		Sources:   sources,
	}, nil
}

// InitializeStore opens the configured key-value backend.
// Useful on its own for read-only tools such as the energy report.
func InitializeStore(ctx context.Context, cfg *models.Config) (store.KVStore, error) {
	switch cfg.Store.Backend {
	case "badger":
		zap.L().Info("Opening badger store", zap.String("dir", cfg.Store.BadgerDir))
		return kvbadger.Open(cfg.Store.BadgerDir)
	case "sqlite", "":
		return database.NewService(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// InitializeLedger connects the configured ledger collaborator.
func InitializeLedger(ctx context.Context, cfg *models.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Backend {
	case "formance", "":
		zap.L().Info("Connecting to Formance ledger",
			zap.String("stack_url", cfg.Formance.StackURL),
			zap.String("ledger", cfg.Formance.LedgerName))
		return formance.NewService(ctx, cfg.Formance)
	case "simulator":
		zap.L().Warn("Using in-process ledger simulator; balances are not persisted")
		sim := ledger.NewSimulator()
		if cfg.Ledger.EscrowAccount != "" {
			sim.AddAccount(cfg.Ledger.EscrowAccount, cfg.Ledger.TokenId)
		}
		return sim, nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

func (cs *Services) Close() {
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
