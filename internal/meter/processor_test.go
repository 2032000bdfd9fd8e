package meter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"energy-ledger-go/internal/database"
	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/gateway"
	"energy-ledger-go/internal/identity"
	"energy-ledger-go/internal/ledger"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/goleak"
)

type testEnv struct {
	proc    *Processor
	sim     *ledger.Simulator
	gw      *gateway.Gateway
	store   store.KVStore
	account string
}

type sourceSet map[string]bool

func (s sourceSet) Contains(source string) bool { return s[source] }

func setupProcessor(t *testing.T) *testEnv {
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

	sim := ledger.NewSimulator()
	gw := gateway.NewGateway(sim, models.LedgerConfig{TokenId: "KWH", CallTimeout: time.Second}, nil)
	bridge := identity.NewBridge(db, gw, identity.Config{}, nil)
	account, err := bridge.ResolveOrCreateAccount(ctx, "0xPRODUCER")
	if err != nil {
		t.Fatalf("Failed to provision account: %v", err)
	}

	proc := NewProcessor(db, gw, bridge, sourceSet{"solar": true, "wind": true}, 4, nil)
	return &testEnv{proc: proc, sim: sim, gw: gw, store: db, account: account}
}

func (e *testEnv) reading(meterId string, kind models.MeterType, amount string, ts time.Time) models.MeterReading {
	return models.MeterReading{
		MeterId:            meterId,
		AccountId:          e.account,
		MeterType:          kind,
		EnergyAmount:       decimal.RequireFromString(amount),
		EnergySource:       "solar",
		Timestamp:          ts,
		Verified:           true,
		VerificationSource: "utility",
	}
}

func (e *testEnv) watermark(t *testing.T, meterId string) (time.Time, bool) {
	t.Helper()
	var wm watermark
	_, err := store.GetJSON(context.Background(), e.store, store.WatermarkKey(meterId), &wm)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false
	}
	if err != nil {
		t.Fatalf("load watermark: %v", err)
	}
	return wm.Timestamp, true
}

var t1 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestProcess_ProductionDedup(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	r := env.reading("M1", models.MeterTypeProduction, "10", t1)

	res, err := env.proc.Process(ctx, r)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Action != models.ActionMint || res.Record == nil {
		t.Fatalf("expected mint with record, got %+v", res)
	}
	if !res.Record.TokenAmount.Equal(res.Record.EnergyAmount) {
		t.Errorf("token amount %s should equal energy amount %s", res.Record.TokenAmount, res.Record.EnergyAmount)
	}
	if wm, _ := env.watermark(t, "M1"); !wm.Equal(t1) {
		t.Errorf("expected watermark %v, got %v", t1, wm)
	}

	again, err := env.proc.Process(ctx, r)
	if err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if again.Action != models.ActionNone || again.Record != nil {
		t.Fatalf("expected none on resubmission, got %+v", again)
	}

	older := env.reading("M1", models.MeterTypeProduction, "3", t1.Add(-time.Minute))
	if res, _ := env.proc.Process(ctx, older); res.Action != models.ActionNone {
		t.Errorf("expected none for older reading, got %s", res.Action)
	}

	if n := env.sim.Calls("mint"); n != 1 {
		t.Errorf("expected 1 mint call, got %d", n)
	}
	records, _ := env.store.SMembers(ctx, store.AccountMintsSet(env.account))
	if len(records) != 1 {
		t.Errorf("expected 1 mint record, got %d", len(records))
	}
	bal, _ := env.gw.BalanceOf(ctx, env.account)
	if !bal.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected balance 10, got %s", bal)
	}
}

func TestProcess_InvalidReadings(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	unverified := env.reading("M2", models.MeterTypeProduction, "10", t1)
	unverified.Verified = false
	zero := env.reading("M2", models.MeterTypeProduction, "0", t1)
	precise := env.reading("M2", models.MeterTypeProduction, "1.005", t1)
	badType := env.reading("M2", "storage", "1", t1)
	badSource := env.reading("M2", models.MeterTypeProduction, "1", t1)
	badSource.EnergySource = "coal"

	for name, r := range map[string]models.MeterReading{
		"unverified": unverified,
		"zero":       zero,
		"precision":  precise,
		"meter type": badType,
		"source":     badSource,
	} {
		if _, err := env.proc.Process(ctx, r); !errors.Is(err, errs.InvalidReading) {
			t.Errorf("%s: expected InvalidReading, got %v", name, err)
		}
	}
	if n := env.sim.Calls("mint") + env.sim.Calls("burn"); n != 0 {
		t.Errorf("expected no ledger calls, got %d", n)
	}
	if _, found := env.watermark(t, "M2"); found {
		t.Error("invalid readings must not create a watermark")
	}
}

func TestProcess_ConsumptionBurnsDespiteLowBalance(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	res, err := env.proc.Process(ctx, env.reading("C1", models.MeterTypeConsumption, "4.5", t1))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Action != models.ActionBurn {
		t.Fatalf("expected burn, got %s", res.Action)
	}
	bal, _ := env.gw.BalanceOf(ctx, env.account)
	if !bal.Equal(decimal.RequireFromString("-4.5")) {
		t.Errorf("expected balance -4.5, got %s", bal)
	}
}

func TestProcess_LedgerFailureRollsBackWatermark(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	r := env.reading("M3", models.MeterTypeProduction, "2", t1)

	env.sim.SetFailure(func(op string, _ ledger.Posting) error {
		if op == "mint" {
			return errors.New("connection reset")
		}
		return nil
	})
	if _, err := env.proc.Process(ctx, r); !errors.Is(err, errs.LedgerUnavailable) {
		t.Fatalf("expected LedgerUnavailable, got %v", err)
	}
	if wm, _ := env.watermark(t, "M3"); !wm.IsZero() {
		t.Fatalf("expected watermark rolled back, got %v", wm)
	}

	env.sim.SetFailure(nil)
	res, err := env.proc.Process(ctx, r)
	if err != nil || res.Action != models.ActionMint {
		t.Fatalf("retry: expected mint, got %+v (%v)", res, err)
	}
}

func TestProcess_ReplayAfterLostWatermarkDoesNotDoubleMint(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()
	r := env.reading("M4", models.MeterTypeProduction, "10", t1)

	first, err := env.proc.Process(ctx, r)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := env.store.Delete(ctx, store.WatermarkKey("M4")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	second, err := env.proc.Process(ctx, r)
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if second.Record.LedgerTransactionId != first.Record.LedgerTransactionId {
		t.Errorf("expected replay to resolve to tx %s, got %s",
			first.Record.LedgerTransactionId, second.Record.LedgerTransactionId)
	}
	bal, _ := env.gw.BalanceOf(ctx, env.account)
	if !bal.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected balance 10 after replay, got %s", bal)
	}
}

func TestProcess_ConcurrentDuplicates(t *testing.T) {
	env := setupProcessor(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	ctx := context.Background()
	r := env.reading("M5", models.MeterTypeProduction, "1", t1)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	mints := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.proc.Process(ctx, r)
			if err != nil {
				t.Errorf("Process failed: %v", err)
				return
			}
			if res.Action == models.ActionMint {
				mu.Lock()
				mints++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if mints != 1 {
		t.Errorf("expected exactly one mint, got %d", mints)
	}
}

func TestProcessBatch_PerItemResults(t *testing.T) {
	env := setupProcessor(t)
	ctx := context.Background()

	unverified := env.reading("B2", models.MeterTypeProduction, "1", t1)
	unverified.Verified = false
	batch := []models.MeterReading{
		env.reading("B1", models.MeterTypeProduction, "5", t1.Add(time.Hour)),
		env.reading("B1", models.MeterTypeProduction, "2", t1),
		unverified,
		env.reading("B3", models.MeterTypeConsumption, "1", t1),
	}

	results := env.proc.ProcessBatch(ctx, batch)
	if len(results) != len(batch) {
		t.Fatalf("expected %d results, got %d", len(batch), len(results))
	}
	// Within a meter, readings are applied in timestamp order, so both B1 readings mint.
	for _, i := range []int{0, 1, 3} {
		if !results[i].Success {
			t.Errorf("item %d: expected success, got %s", i, results[i].Error)
		}
	}
	if results[2].Success || results[2].ErrorKind != string(errs.KindInvalidInput) {
		t.Errorf("item 2: expected INVALID_INPUT failure, got %+v", results[2])
	}
	if results[0].Result.Action != models.ActionMint || results[1].Result.Action != models.ActionMint {
		t.Errorf("expected both B1 readings minted, got %s and %s", results[0].Result.Action, results[1].Result.Action)
	}
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey("M1", t1)
	if a != IdempotencyKey("M1", t1.In(time.FixedZone("X", 3600))) {
		t.Error("key must not depend on timezone")
	}
	if a == IdempotencyKey("M1", t1.Add(time.Nanosecond)) {
		t.Error("key must change with timestamp")
	}
	if a == IdempotencyKey("M2", t1) {
		t.Error("key must change with meter")
	}
}
