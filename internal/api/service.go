/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"context"
	"fmt"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/identity"
	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/meter"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/stats"
	"energy-ledger-go/internal/store"

	"go.uber.org/zap"
)

// EngineService is the surface exposed to the presentation layer. Every
// operation returns a models.Result; errors are folded into the envelope.
type EngineService struct {
	store     store.KVStore
	bridge    *identity.Bridge
	market    *market.Manager
	processor *meter.Processor
	stats     *stats.Service
}

func NewEngineService(s store.KVStore, b *identity.Bridge, m *market.Manager, p *meter.Processor, st *stats.Service) *EngineService {
	return &EngineService{
		store:     s,
		bridge:    b,
		market:    m,
		processor: p,
		stats:     st,
	}
}

func (s *EngineService) HealthCheck(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store health check failed: %w", err)
	}
	return nil
}

func ok(data any) models.Result {
	return models.Result{Success: true, Data: data}
}

func okTx(txId string, data any) models.Result {
	return models.Result{Success: true, LedgerTransactionId: txId, Data: data}
}

// fail converts err into a failed result and logs it at a level matching its kind.
func fail(ctx context.Context, op string, err error) models.Result {
	kind := errs.KindOf(err)
	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("error_kind", string(kind)),
		zap.Error(err),
	}
	if id := models.GetRequestId(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	switch kind {
	case errs.KindInvalidInput, errs.KindNotFound, errs.KindInvalidState, errs.KindInsufficientBalance:
		zap.L().Info("Operation refused", fields...)
	default:
		zap.L().Error("Operation failed", fields...)
	}
	return models.Result{
		Success:   false,
		ErrorKind: string(kind),
		ErrorCode: errs.CodeOf(err),
		Error:     err.Error(),
	}
}
