package formance

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"energy-ledger-go/internal/ledger"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreateAccount registers a new energy account. Formance accounts exist once
// referenced, so creation writes identifying metadata and, when funding is
// positive, credits the account's operating balance from @world.
func (s *Service) CreateAccount(ctx context.Context, funding *big.Int) (ledger.Account, error) {
	id := uuid.New().String()
	addr := accountPrefix + id
	credential := uuid.New().String()

	zap.L().Info("Creating energy account in Formance", zap.String("address", addr))

	_, err := s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: addr,
		RequestBody: map[string]string{
			"entity_type": "energy_account",
			"created_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return ledger.Account{}, fmt.Errorf("failed to create account: %w", translateError(err))
	}

	if funding != nil && funding.Sign() > 0 {
		_, err := s.post(ctx, numscriptFund, "fund:"+id, map[string]string{
			"asset":   formanceAsset(fundingToken),
			"amount":  funding.String(),
			"account": addr,
		})
		if err != nil {
			return ledger.Account{}, fmt.Errorf("failed to fund account: %w", err)
		}
	}

	return ledger.Account{Id: addr, Credential: credential}, nil
}

// AssociateToken records the association as account metadata. Formance has no
// association transaction, so the returned id names the metadata write.
func (s *Service) AssociateToken(ctx context.Context, accountId, tokenId, _ string) (string, error) {
	meta, err := s.accountMetadata(ctx, accountId)
	if err != nil {
		return "", err
	}
	if meta[tokenMetaKey(tokenId)] == "associated" {
		return "", ledger.ErrAlreadyAssociated
	}

	_, err = s.client.Ledger.V2.AddMetadataToAccount(ctx, operations.V2AddMetadataToAccountRequest{
		Ledger:  s.ledger,
		Address: accountId,
		RequestBody: map[string]string{
			tokenMetaKey(tokenId): "associated",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to associate token: %w", translateError(err))
	}

	zap.L().Info("Token associated",
		zap.String("account_id", accountId),
		zap.String("token_id", tokenId))
	return fmt.Sprintf("assoc:%s:%s", accountId, tokenId), nil
}

// Balance returns the token balance of accountId in minor units.
func (s *Service) Balance(ctx context.Context, accountId, tokenId string) (*big.Int, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: accountId,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account volumes: %w", translateError(err))
	}
	if resp.V2AccountResponse == nil {
		return nil, ledger.ErrAccountNotFound
	}
	if bal := volumeBalance(resp.V2AccountResponse.Data.Volumes, formanceAsset(tokenId)); bal != nil {
		return bal, nil
	}
	return new(big.Int), nil
}

// accountMetadata returns the metadata of a registered energy account.
func (s *Service) accountMetadata(ctx context.Context, accountId string) (map[string]string, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: accountId,
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if resp.V2AccountResponse == nil || resp.V2AccountResponse.Data.Metadata["entity_type"] == "" {
		return nil, ledger.ErrAccountNotFound
	}
	return resp.V2AccountResponse.Data.Metadata, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}
