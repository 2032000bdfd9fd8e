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
	"flag"
	"fmt"

	"energy-ledger-go/internal/common"
	"energy-ledger-go/internal/config"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/stats"

	"go.uber.org/zap"
)

type reportStats struct {
	totalWallets    int
	walletsWithFlow int
	totalRecords    int
}

func printRecord(record models.LedgerRecord, isLast bool) {
	fmt.Printf("%s %-5s %14s  meter=%-12s tx=%s  %s\n",
		common.BoxPrefix(isLast),
		record.Kind,
		common.FormatKWh(record.EnergyAmount),
		record.MeterId,
		common.ShortId(record.LedgerTransactionId),
		record.Timestamp.Format("2006-01-02 15:04:05"))
}

func printWalletHeader(mapping models.WalletAccountMapping, energy *models.EnergyStats) {
	fmt.Printf("\n┌─ Wallet: %s\n", mapping.WalletAddress)
	fmt.Printf("│  Account: %s (token associated: %t)\n", mapping.LedgerAccountId, mapping.TokenAssociated)
	fmt.Printf("│  Minted: %s (%d)  Burned: %s (%d)  Net: %s\n",
		common.FormatKWh(energy.TotalMinted), energy.MintCount,
		common.FormatKWh(energy.TotalBurned), energy.BurnCount,
		common.FormatKWh(energy.NetBalance))
	common.PrintBoxSeparator(78)
}

func processWallet(ctx context.Context, mapping models.WalletAccountMapping, svc *stats.Service, limit int) (int, error) {
	energy, err := svc.AccountEnergyStats(ctx, mapping.LedgerAccountId)
	if err != nil {
		return 0, fmt.Errorf("failed to get energy stats: %w", err)
	}
	if energy.MintCount+energy.BurnCount == 0 {
		return 0, nil
	}

	mints, err := svc.AccountMintRecords(ctx, mapping.LedgerAccountId)
	if err != nil {
		return 0, fmt.Errorf("failed to get mint records: %w", err)
	}
	burns, err := svc.AccountBurnRecords(ctx, mapping.LedgerAccountId)
	if err != nil {
		return 0, fmt.Errorf("failed to get burn records: %w", err)
	}
	records := mergeNewestFirst(mints, burns)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	printWalletHeader(mapping, energy)
	for i, record := range records {
		printRecord(record, i == len(records)-1)
	}
	return energy.MintCount + energy.BurnCount, nil
}

// mergeNewestFirst merges two newest-first record lists.
func mergeNewestFirst(a, b []models.LedgerRecord) []models.LedgerRecord {
	out := make([]models.LedgerRecord, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Timestamp.After(b[j].Timestamp) {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	walletFlag := flag.String("wallet", "", "Filter by wallet address (optional)")
	limitFlag := flag.Int("limit", 20, "Maximum records to print per wallet (0 for all)")
	flag.Parse()

	logger.Info("Starting energy report")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: the ledger is not contacted.
	kv, err := common.InitializeStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer kv.Close()

	wallets, err := common.InitializeWallets(ctx, kv, *walletFlag, logger)
	if err != nil {
		logger.Fatal("Failed to load wallets", zap.Error(err))
	}

	svc := stats.NewService(kv)
	common.PrintHeader("ENERGY LEDGER REPORT", common.DefaultWidth)

	report := reportStats{}
	for _, mapping := range wallets {
		report.totalWallets++
		n, err := processWallet(ctx, mapping, svc, *limitFlag)
		if err != nil {
			logger.Error("Failed to process wallet",
				zap.String("wallet", mapping.WalletAddress),
				zap.String("account_id", mapping.LedgerAccountId),
				zap.Error(err))
			continue
		}
		if n > 0 {
			report.walletsWithFlow++
			report.totalRecords += n
		}
	}

	global, err := svc.EnergyStats(ctx)
	if err != nil {
		logger.Fatal("Failed to compute totals", zap.Error(err))
	}
	summary := fmt.Sprintf("SUMMARY: %d of %d wallets with activity, %d records; network minted %s, burned %s, net %s",
		report.walletsWithFlow, report.totalWallets, report.totalRecords,
		common.FormatKWh(global.TotalMinted), common.FormatKWh(global.TotalBurned), common.FormatKWh(global.NetBalance))
	common.PrintFooter(summary, common.WideWidth)

	logger.Info("Energy report completed",
		zap.Int("wallets_queried", report.totalWallets),
		zap.Int("wallets_with_activity", report.walletsWithFlow),
		zap.Int("total_records", report.totalRecords))
}
