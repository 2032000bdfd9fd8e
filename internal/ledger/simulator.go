package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var _ Ledger = (*Simulator)(nil)

// FailureFunc lets tests inject a failure for an operation ("mint", "burn",
// "transfer", "associate", "create"). A nil return lets the call proceed.
type FailureFunc func(op string, p Posting) error

// Simulator is an in-process Ledger. It enforces association and balances for
// transfers, allows burns to overdraw, and honors posting references.
type Simulator struct {
	mu         sync.Mutex
	accounts   map[string]*simAccount
	references map[string]string
	seq        int64
	calls      map[string]int
	fail       FailureFunc
}

type simAccount struct {
	credential string
	associated map[string]bool
	balances   map[string]*big.Int
}

func NewSimulator() *Simulator {
	return &Simulator{
		accounts:   make(map[string]*simAccount),
		references: make(map[string]string),
		calls:      make(map[string]int),
	}
}

// SetFailure installs fn; pass nil to clear it.
func (s *Simulator) SetFailure(fn FailureFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Calls returns how many times op reached the simulator, including injected failures.
func (s *Simulator) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// AddAccount registers a pre-existing account such as an escrow operator.
func (s *Simulator) AddAccount(id string, tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.ensure(id)
	for _, t := range tokens {
		acct.associated[t] = true
	}
}

func (s *Simulator) CreateAccount(ctx context.Context, funding *big.Int) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "create", Posting{Amount: funding}); err != nil {
		return Account{}, err
	}
	id := "acct-" + uuid.New().String()
	acct := s.ensure(id)
	acct.credential = uuid.New().String()
	if funding != nil && funding.Sign() > 0 {
		acct.balances[""] = new(big.Int).Set(funding)
	}
	zap.L().Debug("Simulated ledger account created", zap.String("account_id", id))
	return Account{Id: id, Credential: acct.credential}, nil
}

func (s *Simulator) AssociateToken(ctx context.Context, accountId, tokenId, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, "associate", Posting{TokenId: tokenId, To: accountId}); err != nil {
		return "", err
	}
	acct, ok := s.accounts[accountId]
	if !ok {
		return "", ErrAccountNotFound
	}
	if acct.associated[tokenId] {
		return "", ErrAlreadyAssociated
	}
	acct.associated[tokenId] = true
	return s.nextTx(), nil
}

func (s *Simulator) Mint(ctx context.Context, p Posting) (string, error) {
	return s.post(ctx, "mint", p)
}

func (s *Simulator) Burn(ctx context.Context, p Posting) (string, error) {
	return s.post(ctx, "burn", p)
}

func (s *Simulator) Transfer(ctx context.Context, p Posting) (string, error) {
	return s.post(ctx, "transfer", p)
}

func (s *Simulator) Balance(ctx context.Context, accountId, tokenId string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	acct, ok := s.accounts[accountId]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return new(big.Int).Set(acct.balance(tokenId)), nil
}

func (s *Simulator) post(ctx context.Context, op string, p Posting) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(ctx, op, p); err != nil {
		return "", err
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return "", &RejectedError{Code: "INVALID_AMOUNT", Message: "amount must be positive"}
	}
	if p.Reference != "" {
		if txId, ok := s.references[p.Reference]; ok {
			return txId, nil
		}
	}

	var from, to *simAccount
	if p.From != "" {
		acct, ok := s.accounts[p.From]
		if !ok {
			return "", ErrAccountNotFound
		}
		from = acct
	}
	if p.To != "" {
		acct, ok := s.accounts[p.To]
		if !ok {
			return "", ErrAccountNotFound
		}
		if !acct.associated[p.TokenId] {
			return "", ErrNotAssociated
		}
		to = acct
	}
	if op == "transfer" && from.balance(p.TokenId).Cmp(p.Amount) < 0 {
		return "", ErrInsufficientFunds
	}

	if from != nil {
		from.balances[p.TokenId] = new(big.Int).Sub(from.balance(p.TokenId), p.Amount)
	}
	if to != nil {
		to.balances[p.TokenId] = new(big.Int).Add(to.balance(p.TokenId), p.Amount)
	}

	txId := s.nextTx()
	if p.Reference != "" {
		s.references[p.Reference] = txId
	}
	return txId, nil
}

// enter records the call and applies context and injected failures. Callers hold mu.
func (s *Simulator) enter(ctx context.Context, op string, p Posting) error {
	s.calls[op]++
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.fail != nil {
		return s.fail(op, p)
	}
	return nil
}

func (s *Simulator) ensure(id string) *simAccount {
	acct, ok := s.accounts[id]
	if !ok {
		acct = &simAccount{
			associated: make(map[string]bool),
			balances:   make(map[string]*big.Int),
		}
		s.accounts[id] = acct
	}
	return acct
}

func (s *Simulator) nextTx() string {
	s.seq++
	return fmt.Sprintf("sim-tx-%06d", s.seq)
}

func (a *simAccount) balance(tokenId string) *big.Int {
	if b, ok := a.balances[tokenId]; ok {
		return b
	}
	return new(big.Int)
}
