// Package ledger defines the contract the engine consumes from the external
// token ledger. Amounts crossing this boundary are integer minor units.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrAlreadyAssociated = errors.New("token already associated with account")
	ErrNotAssociated     = errors.New("token not associated with account")
	ErrAccountNotFound   = errors.New("ledger account not found")
	ErrInsufficientFunds = errors.New("insufficient token balance")
)

// RejectedError is a failure receipt: the ledger processed the request and refused it.
type RejectedError struct {
	Code    string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected request: %s: %s", e.Code, e.Message)
}

type Account struct {
	Id         string
	Credential string
}

// Posting describes a single token movement. From is empty for a mint and To is
// empty for a burn. Reference is an idempotency key: submitting a posting whose
// reference the ledger has already recorded returns the original transaction id.
type Posting struct {
	TokenId   string
	From      string
	To        string
	Amount    *big.Int
	Memo      string
	Reference string
}

type Ledger interface {
	CreateAccount(ctx context.Context, funding *big.Int) (Account, error)
	AssociateToken(ctx context.Context, accountId, tokenId, credential string) (string, error)
	Mint(ctx context.Context, p Posting) (string, error)
	Burn(ctx context.Context, p Posting) (string, error)
	Transfer(ctx context.Context, p Posting) (string, error)
	Balance(ctx context.Context, accountId, tokenId string) (*big.Int, error)
}
