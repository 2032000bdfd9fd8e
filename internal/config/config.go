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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"energy-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	var (
		connMaxLifetime, connMaxIdleTime, pingTimeout time.Duration
		callTimeout, httpTimeout                      time.Duration
		defaultTTL, sweepInterval                     time.Duration
		provisionTimeout, pollInterval                time.Duration
		shutdownTimeout                               time.Duration
	)
	defaults := []struct {
		key string
		dst *time.Duration
		def time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", &connMaxLifetime, 5 * time.Minute},
		{"DB_CONN_MAX_IDLE_TIME", &connMaxIdleTime, 30 * time.Second},
		{"DB_PING_TIMEOUT", &pingTimeout, 5 * time.Second},
		{"LEDGER_CALL_TIMEOUT", &callTimeout, 10 * time.Second},
		{"FORMANCE_HTTP_TIMEOUT", &httpTimeout, 30 * time.Second},
		{"MARKET_DEFAULT_TTL", &defaultTTL, 24 * time.Hour},
		{"MARKET_SWEEP_INTERVAL", &sweepInterval, 0},
		{"IDENTITY_PROVISION_TIMEOUT", &provisionTimeout, 30 * time.Second},
		{"IDENTITY_POLL_INTERVAL", &pollInterval, 50 * time.Millisecond},
		{"SERVER_SHUTDOWN_TIMEOUT", &shutdownTimeout, 10 * time.Second},
	}
	for _, d := range defaults {
		v, err := getEnvDuration(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dst = v
	}

	initialFunding, err := getEnvDecimal("LEDGER_INITIAL_FUNDING", decimal.NewFromInt(1))
	if err != nil {
		return nil, err
	}

	cfg := &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "energy.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Store: models.StoreConfig{
			Backend:   getEnvString("STORE_BACKEND", "sqlite"),
			BadgerDir: getEnvString("BADGER_DIR", ""),
		},
		Ledger: models.LedgerConfig{
			Backend:        getEnvString("LEDGER_BACKEND", "formance"),
			TokenId:        getEnvString("LEDGER_TOKEN_ID", "KWH"),
			CallTimeout:    callTimeout,
			InitialFunding: initialFunding,
			EscrowAccount:  getEnvString("LEDGER_ESCROW_ACCOUNT", ""),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", "http://localhost:3068"),
			ClientID:     os.Getenv("FORMANCE_CLIENT_ID"),
			ClientSecret: os.Getenv("FORMANCE_CLIENT_SECRET"),
			LedgerName:   getEnvString("FORMANCE_LEDGER_NAME", "energy"),
			HTTPTimeout:  httpTimeout,
		},
		Market: models.MarketConfig{
			DefaultTTL:    defaultTTL,
			SweepInterval: sweepInterval,
			EnergySources: getEnvString("ENERGY_SOURCES_FILE", "energy-sources.yaml"),
		},
		Identity: models.IdentityConfig{
			ProvisionTimeout: provisionTimeout,
			PollInterval:     pollInterval,
		},
		Meter: models.MeterConfig{
			BatchConcurrency: getEnvInt("METER_BATCH_CONCURRENCY", 8),
		},
		Server: models.ServerConfig{
			Addr:            getEnvString("SERVER_ADDR", ":8080"),
			ShutdownTimeout: shutdownTimeout,
		},
		AMQP: models.AMQPConfig{
			URL:        os.Getenv("AMQP_URL"),
			Exchange:   getEnvString("AMQP_EXCHANGE", "energy.readings"),
			Queue:      getEnvString("AMQP_QUEUE", "energy.readings.process"),
			RoutingKey: getEnvString("AMQP_ROUTING_KEY", "reading.verified"),
			Prefetch:   getEnvInt("AMQP_PREFETCH", 10),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *models.Config) error {
	switch cfg.Store.Backend {
	case "sqlite", "badger":
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: must be sqlite or badger", cfg.Store.Backend)
	}
	switch cfg.Ledger.Backend {
	case "formance", "simulator":
	default:
		return fmt.Errorf("invalid LEDGER_BACKEND %q: must be formance or simulator", cfg.Ledger.Backend)
	}
	if cfg.Ledger.CallTimeout <= 0 {
		return fmt.Errorf("LEDGER_CALL_TIMEOUT must be positive")
	}
	if cfg.Ledger.InitialFunding.IsNegative() {
		return fmt.Errorf("LEDGER_INITIAL_FUNDING cannot be negative")
	}
	if cfg.Market.DefaultTTL <= 0 {
		return fmt.Errorf("MARKET_DEFAULT_TTL must be positive")
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
