// Package meter turns verified meter readings into mint and burn operations,
// exactly once per reading. A per-meter watermark is claimed with a
// compare-and-swap before the ledger is called; every ledger call carries an
// idempotency key derived from the reading so a replay cannot double-post.
package meter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ledger is the subset of the ledger gateway the processor needs.
type Ledger interface {
	Mint(ctx context.Context, accountId string, amount decimal.Decimal, memo, reference string) (string, error)
	Burn(ctx context.Context, accountId string, amount decimal.Decimal, memo, reference string) (string, error)
	BalanceOf(ctx context.Context, accountId string) (decimal.Decimal, error)
}

type Associator interface {
	EnsureAssociated(ctx context.Context, accountId string) error
}

// Sources reports whether an energy source is recognised. A nil Sources accepts any.
type Sources interface {
	Contains(source string) bool
}

type watermark struct {
	Timestamp time.Time `json:"timestamp"`
	Reference string    `json:"reference,omitempty"`
}

type Processor struct {
	store       store.KVStore
	ledger      Ledger
	assoc       Associator
	sources     Sources
	concurrency int
	metrics     *metrics.EngineMetrics
}

func NewProcessor(s store.KVStore, l Ledger, a Associator, sources Sources, concurrency int, m *metrics.EngineMetrics) *Processor {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Processor{store: s, ledger: l, assoc: a, sources: sources, concurrency: concurrency, metrics: m}
}

// IdempotencyKey identifies a reading by meter and timestamp.
func IdempotencyKey(meterId string, ts time.Time) string {
	sum := sha256.Sum256([]byte(meterId + "|" + ts.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}

// Process applies one reading. Readings at or before the meter's watermark
// return ActionNone without touching the ledger.
func (p *Processor) Process(ctx context.Context, reading models.MeterReading) (*models.ProcessResult, error) {
	if err := p.validate(reading); err != nil {
		return nil, err
	}
	ts := reading.Timestamp.UTC()
	key := IdempotencyKey(reading.MeterId, ts)

	prev, claimed, err := p.claim(ctx, reading.MeterId, watermark{Timestamp: ts, Reference: key})
	if err != nil {
		return nil, err
	}
	if claimed == nil {
		zap.L().Info("Reading at or before watermark discarded",
			zap.String("meter_id", reading.MeterId),
			zap.Time("timestamp", ts))
		p.metrics.ObserveReading(string(models.ActionNone))
		return &models.ProcessResult{Action: models.ActionNone}, nil
	}

	record, err := p.apply(ctx, reading, key)
	if err != nil {
		p.rollback(ctx, reading.MeterId, claimed, prev)
		return nil, err
	}

	p.metrics.ObserveReading(string(record.Kind))
	amount, _ := record.EnergyAmount.Float64()
	if record.Kind == models.RecordKindMint {
		p.metrics.AddMinted(amount)
	} else {
		p.metrics.AddBurned(amount)
	}
	return &models.ProcessResult{Action: models.ReadingAction(record.Kind), Record: record}, nil
}

// ProcessBatch processes readings concurrently across meters and in timestamp
// order within a meter. Each reading gets its own result; one failure does not
// stop the batch.
func (p *Processor) ProcessBatch(ctx context.Context, readings []models.MeterReading) []models.BatchItemResult {
	results := make([]models.BatchItemResult, len(readings))
	byMeter := make(map[string][]int)
	var meters []string
	for i, r := range readings {
		if _, ok := byMeter[r.MeterId]; !ok {
			meters = append(meters, r.MeterId)
		}
		byMeter[r.MeterId] = append(byMeter[r.MeterId], i)
	}

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, meterId := range meters {
		idx := byMeter[meterId]
		sort.SliceStable(idx, func(a, b int) bool {
			return readings[idx[a]].Timestamp.Before(readings[idx[b]].Timestamp)
		})
		g.Go(func() error {
			for _, i := range idx {
				res, err := p.Process(ctx, readings[i])
				item := models.BatchItemResult{Index: i, MeterId: readings[i].MeterId, Success: err == nil, Result: res}
				if err != nil {
					item.ErrorKind = string(errs.KindOf(err))
					item.Error = err.Error()
					item.Err = err
				}
				results[i] = item
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Processor) validate(r models.MeterReading) error {
	switch {
	case !r.Verified:
		return errs.Reading("reading from meter %s is not verified", r.MeterId)
	case r.MeterId == "":
		return errs.Reading("meter id is required")
	case r.AccountId == "":
		return errs.Reading("account id is required for meter %s", r.MeterId)
	case r.Timestamp.IsZero():
		return errs.Reading("timestamp is required for meter %s", r.MeterId)
	case !r.EnergyAmount.IsPositive():
		return errs.Reading("energy amount must be positive, got %s", r.EnergyAmount)
	case r.MeterType != models.MeterTypeProduction && r.MeterType != models.MeterTypeConsumption:
		return errs.Reading("unsupported meter type %q", r.MeterType)
	}
	if _, err := gateway.ToMinorUnits(r.EnergyAmount); err != nil {
		return errs.Reading("energy amount %s exceeds token precision", r.EnergyAmount)
	}
	if p.sources != nil && r.EnergySource != "" && !p.sources.Contains(r.EnergySource) {
		return errs.Reading("unknown energy source %q", r.EnergySource)
	}
	return nil
}

// claim advances the meter watermark to next. It returns the bytes it replaced
// (nil if none) and the bytes it wrote; written is nil when the reading is stale.
func (p *Processor) claim(ctx context.Context, meterId string, next watermark) ([]byte, []byte, error) {
	key := store.WatermarkKey(meterId)
	nextRaw, err := json.Marshal(next)
	if err != nil {
		return nil, nil, fmt.Errorf("encode watermark: %w", err)
	}
	for {
		var cur watermark
		raw, err := store.GetJSON(ctx, p.store, key, &cur)
		var ok bool
		switch {
		case errors.Is(err, store.ErrNotFound):
			ok, err = p.store.SetIfAbsent(ctx, key, nextRaw)
		case err != nil:
			return nil, nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "load watermark for %s", meterId)
		case !cur.Timestamp.Before(next.Timestamp):
			return nil, nil, nil
		default:
			ok, err = p.store.CompareAndSwap(ctx, key, raw, nextRaw)
		}
		if err != nil {
			return nil, nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "claim watermark for %s", meterId)
		}
		if ok {
			return raw, nextRaw, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
	}
}

// rollback restores the previous watermark if ours is still in place.
func (p *Processor) rollback(ctx context.Context, meterId string, written, prev []byte) {
	if prev == nil {
		prev, _ = json.Marshal(watermark{})
	}
	ok, err := p.store.CompareAndSwap(context.WithoutCancel(ctx), store.WatermarkKey(meterId), written, prev)
	if err != nil || !ok {
		zap.L().Warn("Watermark not rolled back; a newer reading advanced it",
			zap.String("meter_id", meterId),
			zap.Bool("swapped", ok),
			zap.Error(err))
	}
}

// apply performs the ledger operation for a claimed reading and records it.
func (p *Processor) apply(ctx context.Context, r models.MeterReading, key string) (*models.LedgerRecord, error) {
	ts := r.Timestamp.UTC()
	memo := fmt.Sprintf("%s meter %s at %s", r.MeterType, r.MeterId, ts.Format(time.RFC3339))

	var (
		kind models.RecordKind
		txId string
		err  error
	)
	switch r.MeterType {
	case models.MeterTypeProduction:
		kind = models.RecordKindMint
		if err := p.assoc.EnsureAssociated(ctx, r.AccountId); err != nil {
			return nil, err
		}
		txId, err = p.ledger.Mint(ctx, r.AccountId, r.EnergyAmount, memo, key)
	case models.MeterTypeConsumption:
		kind = models.RecordKindBurn
		p.checkBalance(ctx, r)
		txId, err = p.ledger.Burn(ctx, r.AccountId, r.EnergyAmount, memo, key)
	}
	if err != nil {
		zap.L().Error("Ledger operation for reading failed",
			zap.String("meter_id", r.MeterId),
			zap.String("account_id", r.AccountId),
			zap.String("kind", string(kind)),
			zap.String("reference", key),
			zap.Error(err))
		return nil, err
	}

	record := &models.LedgerRecord{
		Id:                  key,
		Kind:                kind,
		AccountId:           r.AccountId,
		EnergyAmount:        r.EnergyAmount,
		TokenAmount:         r.EnergyAmount,
		MeterId:             r.MeterId,
		EnergySource:        r.EnergySource,
		LedgerTransactionId: txId,
		Timestamp:           ts,
		SourceReadingRef:    key,
	}
	if err := p.persist(ctx, record); err != nil {
		// The ledger call is keyed by reference, so a retry re-posts without a second effect.
		return nil, err
	}

	zap.L().Info("Reading processed",
		zap.String("meter_id", r.MeterId),
		zap.String("account_id", r.AccountId),
		zap.String("kind", string(kind)),
		zap.String("amount", r.EnergyAmount.String()),
		zap.String("tx_id", txId))
	return record, nil
}

// checkBalance logs when a burn exceeds the account balance. Consumption has
// already happened, so the burn proceeds regardless.
func (p *Processor) checkBalance(ctx context.Context, r models.MeterReading) {
	bal, err := p.ledger.BalanceOf(ctx, r.AccountId)
	if err != nil {
		zap.L().Warn("Advisory balance check failed", zap.String("account_id", r.AccountId), zap.Error(err))
		return
	}
	if bal.LessThan(r.EnergyAmount) {
		zap.L().Warn("Consumption exceeds token balance; burning anyway",
			zap.String("account_id", r.AccountId),
			zap.String("balance", bal.String()),
			zap.String("amount", r.EnergyAmount.String()))
	}
}

func (p *Processor) persist(ctx context.Context, record *models.LedgerRecord) error {
	created, err := store.SetJSONIfAbsent(ctx, p.store, store.RecordKey(record.Id), record)
	if err != nil {
		return errs.Wrap(errs.KindPersistenceUnavailable, err, "write record %s", record.Id)
	}

	kindSet, accountSet := store.SetMintRecords, store.AccountMintsSet(record.AccountId)
	if record.Kind == models.RecordKindBurn {
		kindSet, accountSet = store.SetBurnRecords, store.AccountBurnsSet(record.AccountId)
	}
	if err := p.store.SAdd(ctx, kindSet, record.Id); err != nil {
		return errs.Wrap(errs.KindPersistenceUnavailable, err, "index record %s", record.Id)
	}
	if err := p.store.SAdd(ctx, accountSet, record.Id); err != nil {
		return errs.Wrap(errs.KindPersistenceUnavailable, err, "index record %s", record.Id)
	}
	if !created {
		return nil
	}

	err = store.Update(ctx, p.store, store.ProfileKey(record.AccountId), 20, func(pr *models.UserProfile) error {
		now := time.Now().UTC()
		if pr.AccountId == "" {
			pr.AccountId = record.AccountId
			pr.CreatedAt = now
		}
		if record.Kind == models.RecordKindMint {
			pr.IsProducer = true
			pr.TotalProduction = pr.TotalProduction.Add(record.EnergyAmount)
		} else {
			pr.IsConsumer = true
			pr.TotalConsumption = pr.TotalConsumption.Add(record.EnergyAmount)
		}
		pr.UpdatedAt = now
		return nil
	})
	if err != nil {
		zap.L().Warn("Failed to update profile counters", zap.String("account_id", record.AccountId), zap.Error(err))
	}
	return nil
}
