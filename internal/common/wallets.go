package common

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"go.uber.org/zap"
)

// InitializeWallets returns the provisioned wallet mappings. With a filter,
// only that wallet is returned. Reservations still being provisioned are skipped.
func InitializeWallets(ctx context.Context, kv store.KVStore, walletFilter string, logger *zap.Logger) ([]models.WalletAccountMapping, error) {
	wallets := []string{walletFilter}
	if walletFilter == "" {
		all, err := kv.SMembers(ctx, store.SetWallets)
		if err != nil {
			return nil, fmt.Errorf("failed to list wallets: %w", err)
		}
		sort.Strings(all)
		wallets = all
	} else {
		logger.Info("Looking up wallet", zap.String("wallet", walletFilter))
	}

	var mappings []models.WalletAccountMapping
	for _, wallet := range wallets {
		var m models.WalletAccountMapping
		_, err := store.GetJSON(ctx, kv, store.WalletKey(wallet), &m)
		if errors.Is(err, store.ErrNotFound) {
			if walletFilter != "" {
				return nil, fmt.Errorf("wallet %s is not mapped", wallet)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load wallet %s: %w", wallet, err)
		}
		if m.Pending {
			continue
		}
		mappings = append(mappings, m)
	}

	logger.Info("Retrieved wallets", zap.Int("count", len(mappings)))
	return mappings, nil
}
