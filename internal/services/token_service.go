package services

import (
	"context"

	"github.com/clubtokens/console-backend/internal/models"
)

// IssueRequest is an administrator's credit or debit on one account.
type IssueRequest struct {
	TransactionType string  `json:"type" validate:"required"`
	Amount          int64   `json:"amount"`
	CurrentBalance  *int64  `json:"currentBalance,omitempty"`
	Note            *string `json:"note,omitempty" validate:"omitempty,max=500"`
}

// TokenService authorizes ledger access for an administrator before
// delegating to the LedgerService.
type TokenService struct {
	ledger    *LedgerService
	gate      *AuthorizationGate
	validator *ValidationHelper
}

func NewTokenService(ledger *LedgerService, gate *AuthorizationGate) *TokenService {
	return &TokenService{ledger: ledger, gate: gate, validator: NewValidationHelper()}
}

func (s *TokenService) Balance(ctx context.Context, actor *models.Administrator, accountID string) (*models.AccountBalance, error) {
	if err := s.gate.Check(actor, OpViewLedger, OperationContext{AccountID: accountID}); err != nil {
		return nil, err
	}
	return s.ledger.CurrentBalance(ctx, accountID)
}

func (s *TokenService) Transactions(ctx context.Context, actor *models.Administrator, accountID string, limit int) ([]models.Transaction, error) {
	if err := s.gate.Check(actor, OpViewLedger, OperationContext{AccountID: accountID}); err != nil {
		return nil, err
	}
	return s.ledger.ListTransactions(ctx, accountID, limit)
}

func (s *TokenService) TransactionTypes(ctx context.Context, actor *models.Administrator) ([]models.TransactionType, error) {
	if err := s.gate.Check(actor, OpViewLedger, OperationContext{}); err != nil {
		return nil, err
	}
	return s.ledger.TransactionTypes(ctx)
}

// Issue picks the credit or debit operation from the transaction type's
// direction, authorizes it against the account and appends it. The request
// is only validated once the actor is authorized, so a denial always wins.
func (s *TokenService) Issue(ctx context.Context, actor *models.Administrator, accountID string, req IssueRequest, idempotencyKey string) (*AppendResult, error) {
	// Credit and debit share one rule, so an unresolved type is gated as a credit.
	txType, typeErr := s.ledger.transactionType(ctx, req.TransactionType)
	op := OpCreditTokens
	if typeErr == nil && txType.Direction == models.DirectionDebit {
		op = OpDebitTokens
	}
	if err := s.gate.Check(actor, op, OperationContext{AccountID: accountID}); err != nil {
		return nil, err
	}

	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, newValidationError(err)
	}
	if typeErr != nil {
		return nil, typeErr
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var key *string
	if idempotencyKey != "" {
		key = &idempotencyKey
	}

	return s.ledger.Append(ctx, AppendRequest{
		AccountID:           accountID,
		TransactionTypeCode: txType.Code,
		Amount:              req.Amount,
		CurrentBalance:      req.CurrentBalance,
		Note:                req.Note,
		IdempotencyKey:      key,
		Actor:               actor.AsActor(),
	})
}
