package api

import (
	"context"

	"energy-ledger-go/internal/market"
	"energy-ledger-go/internal/models"
)

func (s *EngineService) CheckWalletMapping(ctx context.Context, wallet string) models.Result {
	accountId, mapped, err := s.bridge.GetAccountId(ctx, wallet)
	if err != nil {
		return fail(ctx, "check-wallet-mapping", err)
	}
	return ok(models.WalletMappingStatus{WalletAddress: wallet, Mapped: mapped, LedgerAccountId: accountId})
}

// CreateAccountForWallet resolves the wallet's ledger account, provisioning it on first use.
func (s *EngineService) CreateAccountForWallet(ctx context.Context, wallet string) models.Result {
	accountId, err := s.bridge.ResolveOrCreateAccount(ctx, wallet)
	if err != nil {
		return fail(ctx, "create-account-for-wallet", err)
	}
	return ok(models.WalletMappingStatus{WalletAddress: wallet, Mapped: true, LedgerAccountId: accountId})
}

func (s *EngineService) AssociateTokenForWallet(ctx context.Context, wallet string) models.Result {
	txId, err := s.bridge.AssociateTokenForWallet(ctx, wallet)
	if err != nil {
		return fail(ctx, "associate-token-for-wallet", err)
	}
	mapping, err := s.bridge.GetMapping(ctx, wallet)
	if err != nil {
		return fail(ctx, "associate-token-for-wallet", err)
	}
	return okTx(txId, mapping)
}

func (s *EngineService) RegisterProfile(ctx context.Context, req models.RegisterProfileRequest) models.Result {
	profile, err := s.market.RegisterProfile(ctx, market.ProfileParams{
		AccountId:   req.AccountId,
		DisplayName: req.DisplayName,
		Location:    req.Location,
		IsProducer:  req.IsProducer,
		IsConsumer:  req.IsConsumer,
	})
	if err != nil {
		return fail(ctx, "register-profile", err)
	}
	return ok(profile)
}

func (s *EngineService) GetProfile(ctx context.Context, accountId string) models.Result {
	profile, err := s.market.GetProfile(ctx, accountId)
	if err != nil {
		return fail(ctx, "get-profile", err)
	}
	return ok(profile)
}
