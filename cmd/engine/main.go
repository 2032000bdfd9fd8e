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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"energy-ledger-go/internal/common"
	"energy-ledger-go/internal/config"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const lifecycleTimeout = 30 * time.Second

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	app := fx.New(
		fx.Supply(logger),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
		fx.Provide(
			config.Load,
			ProvideServices,
			ProvideHTTPServer,
		),
		fx.Invoke(
			startHTTPServer,
			startSweeper,
			startReadingConsumer,
		),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()
	if err := app.Start(startCtx); err != nil {
		logger.Fatal("Failed to start energy engine", zap.Error(err))
	}
	logger.Info("Energy engine running")

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Error("Error stopping energy engine", zap.Error(err))
	}
}
