package mq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/models"

	"go.uber.org/zap"
)

// BatchProcessor is satisfied by the meter reading processor.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, readings []models.MeterReading) []models.BatchItemResult
}

// ReadingHandler decodes a reading or an array of readings and processes them
// as one batch. Items rejected for good (invalid readings, unknown accounts)
// are logged and acknowledged; a retryable item failure dead-letters the
// message. Replaying it is safe since processed readings fall behind the watermark.
func ReadingHandler(p BatchProcessor, logger *zap.Logger) MessageHandler {
	return func(ctx context.Context, body []byte) error {
		readings, err := decodeReadings(body)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		if len(readings) == 0 {
			return fmt.Errorf("%w: empty batch", ErrPermanent)
		}

		results := p.ProcessBatch(ctx, readings)
		var retryable, rejected int
		for _, r := range results {
			if r.Success {
				continue
			}
			if errs.Retryable(r.Err) {
				retryable++
			} else {
				rejected++
			}
			logger.Warn("Reading not applied",
				zap.String("request_id", models.GetRequestId(ctx)),
				zap.Int("index", r.Index),
				zap.String("meter_id", r.MeterId),
				zap.String("error_kind", r.ErrorKind),
				zap.String("error", r.Error))
		}

		logger.Info("Reading batch processed",
			zap.String("request_id", models.GetRequestId(ctx)),
			zap.Int("readings", len(readings)),
			zap.Int("rejected", rejected),
			zap.Int("retryable", retryable))

		if retryable > 0 {
			return fmt.Errorf("%d of %d readings failed with a retryable error", retryable, len(readings))
		}
		return nil
	}
}

func decodeReadings(body []byte) ([]models.MeterReading, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty body")
	}
	if trimmed[0] == '[' {
		var readings []models.MeterReading
		if err := json.Unmarshal(trimmed, &readings); err != nil {
			return nil, fmt.Errorf("decode readings: %w", err)
		}
		return readings, nil
	}
	var reading models.MeterReading
	if err := json.Unmarshal(trimmed, &reading); err != nil {
		return nil, fmt.Errorf("decode reading: %w", err)
	}
	return []models.MeterReading{reading}, nil
}
