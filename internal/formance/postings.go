package formance

import (
	"context"
	"fmt"

	"energy-ledger-go/internal/ledger"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Numscript templates. Metadata is set inside the script via set_tx_meta() so
// every Formance transaction is self-describing.
// ---------------------------------------------------------------------------

const numscriptFund = `vars {
  asset $asset
  number $amount
  account $account
}

send [$asset $amount] (
  source = @world
  destination = $account
)

set_tx_meta("event_type", "account_funded")
`

const numscriptMint = `vars {
  asset $asset
  number $amount
  account $account
  string $memo
}

send [$asset $amount] (
  source = @world
  destination = $account
)

set_tx_meta("event_type", "energy_minted")
set_tx_meta("memo", $memo)
`

// Burns mirror consumption that already happened, so the account may go negative.
const numscriptBurn = `vars {
  asset $asset
  number $amount
  account $account
  string $memo
}

send [$asset $amount] (
  source = $account allowing unbounded overdraft
  destination = @world
)

set_tx_meta("event_type", "energy_burned")
set_tx_meta("memo", $memo)
`

const numscriptTransfer = `vars {
  asset $asset
  number $amount
  account $source
  account $destination
  string $memo
}

send [$asset $amount] (
  source = $source
  destination = $destination
)

set_tx_meta("event_type", "energy_transferred")
set_tx_meta("memo", $memo)
`

func (s *Service) Mint(ctx context.Context, p ledger.Posting) (string, error) {
	if err := s.requireAssociated(ctx, p.To, p.TokenId); err != nil {
		return "", err
	}
	return s.post(ctx, numscriptMint, p.Reference, map[string]string{
		"asset":   formanceAsset(p.TokenId),
		"amount":  p.Amount.String(),
		"account": p.To,
		"memo":    p.Memo,
	})
}

func (s *Service) Burn(ctx context.Context, p ledger.Posting) (string, error) {
	return s.post(ctx, numscriptBurn, p.Reference, map[string]string{
		"asset":   formanceAsset(p.TokenId),
		"amount":  p.Amount.String(),
		"account": p.From,
		"memo":    p.Memo,
	})
}

func (s *Service) Transfer(ctx context.Context, p ledger.Posting) (string, error) {
	if err := s.requireAssociated(ctx, p.To, p.TokenId); err != nil {
		return "", err
	}
	return s.post(ctx, numscriptTransfer, p.Reference, map[string]string{
		"asset":       formanceAsset(p.TokenId),
		"amount":      p.Amount.String(),
		"source":      p.From,
		"destination": p.To,
		"memo":        p.Memo,
	})
}

func (s *Service) requireAssociated(ctx context.Context, accountId, tokenId string) error {
	meta, err := s.accountMetadata(ctx, accountId)
	if err != nil {
		return err
	}
	if meta[tokenMetaKey(tokenId)] != "associated" {
		return ledger.ErrNotAssociated
	}
	return nil
}

// post submits a numscript transaction. A CONFLICT on the reference means the
// transaction was already recorded; its id is looked up and returned.
func (s *Service) post(ctx context.Context, script, reference string, vars map[string]string) (string, error) {
	if reference == "" {
		reference = uuid.New().String()
	}

	resp, err := s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger: s.ledger,
		V2PostTransaction: shared.V2PostTransaction{
			Reference: strPtr(reference),
			Script: &shared.V2PostTransactionScript{
				Plain: script,
				Vars:  vars,
			},
		},
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Info("Transaction reference already recorded", zap.String("reference", reference))
			return s.transactionIdByReference(ctx, reference)
		}
		return "", translateError(err)
	}
	if resp.V2CreateTransactionResponse == nil || resp.V2CreateTransactionResponse.Data.ID == nil {
		return "", fmt.Errorf("ledger returned no transaction for reference %s", reference)
	}
	return resp.V2CreateTransactionResponse.Data.ID.String(), nil
}

func (s *Service) transactionIdByReference(ctx context.Context, reference string) (string, error) {
	pageSize := int64(1)
	resp, err := s.client.Ledger.V2.ListTransactions(ctx, operations.V2ListTransactionsRequest{
		Ledger:   s.ledger,
		PageSize: &pageSize,
		RequestBody: map[string]any{
			"$match": map[string]any{
				"reference": reference,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to find transaction by reference %s: %w", reference, err)
	}
	if resp.V2TransactionsCursorResponse == nil || len(resp.V2TransactionsCursorResponse.Cursor.Data) == 0 {
		return "", fmt.Errorf("no transaction found with reference %s", reference)
	}
	tx := resp.V2TransactionsCursorResponse.Cursor.Data[0]
	if tx.ID == nil {
		return "", fmt.Errorf("transaction with reference %s has no id", reference)
	}
	return tx.ID.String(), nil
}
