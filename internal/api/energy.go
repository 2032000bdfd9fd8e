package api

import (
	"context"
	"fmt"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/models"
)

// ProcessReading applies one verified meter reading.
func (s *EngineService) ProcessReading(ctx context.Context, reading models.MeterReading) models.Result {
	res, err := s.processor.Process(ctx, reading)
	if err != nil {
		return fail(ctx, "process-reading", err)
	}
	if res.Record != nil {
		return okTx(res.Record.LedgerTransactionId, res)
	}
	return ok(res)
}

// ProcessReadings applies a batch. The envelope succeeds when every item does;
// per-item outcomes are always in Data.
func (s *EngineService) ProcessReadings(ctx context.Context, readings []models.MeterReading) models.Result {
	if len(readings) == 0 {
		return fail(ctx, "process-readings", errs.New(errs.KindInvalidInput, "no readings supplied"))
	}
	items := s.processor.ProcessBatch(ctx, readings)
	failed, kind := 0, ""
	for _, it := range items {
		if !it.Success {
			failed++
			if kind == "" {
				kind = it.ErrorKind
			}
		}
	}
	if failed > 0 {
		return models.Result{
			Success:   false,
			ErrorKind: kind,
			Error:     fmt.Sprintf("%d of %d readings failed", failed, len(items)),
			Data:      items,
		}
	}
	return ok(items)
}

func (s *EngineService) GetAccountMintRecords(ctx context.Context, accountId string) models.Result {
	if accountId == "" {
		return fail(ctx, "get-account-mint-records", errs.New(errs.KindInvalidInput, "account id is required"))
	}
	records, err := s.stats.AccountMintRecords(ctx, accountId)
	if err != nil {
		return fail(ctx, "get-account-mint-records", err)
	}
	return ok(records)
}

func (s *EngineService) GetAccountBurnRecords(ctx context.Context, accountId string) models.Result {
	if accountId == "" {
		return fail(ctx, "get-account-burn-records", errs.New(errs.KindInvalidInput, "account id is required"))
	}
	records, err := s.stats.AccountBurnRecords(ctx, accountId)
	if err != nil {
		return fail(ctx, "get-account-burn-records", err)
	}
	return ok(records)
}

// GetEnergyStats returns global totals, or one account's when accountId is set.
func (s *EngineService) GetEnergyStats(ctx context.Context, accountId string) models.Result {
	var (
		st  *models.EnergyStats
		err error
	)
	if accountId == "" {
		st, err = s.stats.EnergyStats(ctx)
	} else {
		st, err = s.stats.AccountEnergyStats(ctx, accountId)
	}
	if err != nil {
		return fail(ctx, "get-energy-stats", err)
	}
	return ok(st)
}
