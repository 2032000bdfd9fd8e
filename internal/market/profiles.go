package market

import (
	"context"
	"errors"
	"strings"

	"energy-ledger-go/internal/errs"
	"energy-ledger-go/internal/models"
	"energy-ledger-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var defaultReputation = decimal.NewFromInt(5)

type ProfileParams struct {
	AccountId   string
	DisplayName string
	Location    string
	IsProducer  bool
	IsConsumer  bool
}

// RegisterProfile creates or updates the descriptive fields of a profile.
// Cumulative counters written by settlement and metering are preserved.
func (m *Manager) RegisterProfile(ctx context.Context, p ProfileParams) (*models.UserProfile, error) {
	if p.AccountId == "" {
		return nil, errs.New(errs.KindInvalidInput, "account id is required")
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return nil, errs.New(errs.KindInvalidInput, "display name is required")
	}

	var result models.UserProfile
	err := store.Update(ctx, m.store, store.ProfileKey(p.AccountId), profileUpdateAttempts, func(pr *models.UserProfile) error {
		now := m.now().UTC()
		if pr.AccountId == "" {
			pr.AccountId = p.AccountId
			pr.CreatedAt = now
		}
		if pr.Reputation.IsZero() {
			pr.Reputation = defaultReputation
		}
		pr.DisplayName = strings.TrimSpace(p.DisplayName)
		pr.Location = p.Location
		pr.IsProducer = pr.IsProducer || p.IsProducer
		pr.IsConsumer = pr.IsConsumer || p.IsConsumer
		pr.UpdatedAt = now
		result = *pr
		return nil
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "register profile %s", p.AccountId)
	}
	if err := m.store.SAdd(ctx, store.SetProfiles, p.AccountId); err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "index profile %s", p.AccountId)
	}

	zap.L().Info("Profile registered", zap.String("account_id", p.AccountId), zap.String("display_name", result.DisplayName))
	return &result, nil
}

func (m *Manager) GetProfile(ctx context.Context, accountId string) (*models.UserProfile, error) {
	var profile models.UserProfile
	_, err := store.GetJSON(ctx, m.store, store.ProfileKey(accountId), &profile)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.New(errs.KindNotFound, "profile %s not found", accountId)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindPersistenceUnavailable, err, "load profile %s", accountId)
	}
	return &profile, nil
}
