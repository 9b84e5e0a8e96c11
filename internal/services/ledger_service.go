package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clubtokens/console-backend/internal/metrics"
	"github.com/clubtokens/console-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AppendRequest describes one signed movement on an account.
type AppendRequest struct {
	AccountID           string       `validate:"required,max=32"`
	TransactionTypeCode string       `validate:"required"`
	Amount              int64        // always positive; the type's direction gives the sign
	CurrentBalance      *int64       // optional optimistic check
	Note                *string      `validate:"omitempty,max=500"`
	IdempotencyKey      *string      `validate:"omitempty,min=1,max=128"`
	Actor               models.Actor
}

// AppendResult is the stored transaction and whether it was an idempotent replay.
type AppendResult struct {
	Transaction models.Transaction `json:"transaction"`
	Replayed    bool               `json:"replayed"`
}

type LedgerService struct {
	db        *sql.DB
	store     *AccountStore
	audit     *AuditTrailService
	locker    AccountLocker
	validator *ValidationHelper
	logger    logrus.FieldLogger
	now       func() time.Time

	typesMu sync.Mutex
	types   []models.TransactionType
}

func NewLedgerService(db *sql.DB, store *AccountStore, audit *AuditTrailService, locker AccountLocker, logger logrus.FieldLogger) *LedgerService {
	return &LedgerService{
		db:        db,
		store:     store,
		audit:     audit,
		locker:    locker,
		validator: NewValidationHelper(),
		logger:    logger.WithField("component", "ledger"),
		now:       time.Now,
	}
}

// TransactionTypes loads the reference data once and serves it from memory afterwards.
func (s *LedgerService) TransactionTypes(ctx context.Context) ([]models.TransactionType, error) {
	s.typesMu.Lock()
	defer s.typesMu.Unlock()

	if s.types != nil {
		return s.types, nil
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, code, label, direction FROM transaction_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types := []models.TransactionType{}
	for rows.Next() {
		var tt models.TransactionType
		if err := rows.Scan(&tt.ID, &tt.Code, &tt.Label, &tt.Direction); err != nil {
			return nil, err
		}
		types = append(types, tt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.types = types
	return types, nil
}

func (s *LedgerService) transactionType(ctx context.Context, code string) (*models.TransactionType, error) {
	types, err := s.TransactionTypes(ctx)
	if err != nil {
		return nil, err
	}
	for i := range types {
		if types[i].Code == code {
			return &types[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTransactionType, code)
}

// CurrentBalance resolves the balance from the latest transaction snapshot,
// falling back to the account's stored balance when there are no transactions.
func (s *LedgerService) CurrentBalance(ctx context.Context, accountID string) (*models.AccountBalance, error) {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	balance, _, ok, err := s.store.latestSnapshot(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		balance = account.TokenBalance
	}
	return &models.AccountBalance{Account: *account, Balance: balance}, nil
}

// ListTransactions returns the account's transactions newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, accountID, limit)
}

// Append validates req, then under the account lock and inside a single
// database transaction resolves the balance, appends the transaction and
// writes its audit entry.
func (s *LedgerService) Append(ctx context.Context, req AppendRequest) (*AppendResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, newValidationError(err)
	}

	txType, err := s.transactionType(ctx, req.TransactionTypeCode)
	if err != nil {
		return nil, err
	}

	var result *AppendResult
	err = s.locker.WithLock(ctx, req.AccountID, func(ctx context.Context) error {
		var err error
		result, err = s.appendLocked(ctx, req, txType)
		return err
	})

	outcome := "applied"
	switch {
	case errors.Is(err, ErrBalanceConflict):
		outcome = "conflict"
	case err != nil:
		outcome = "error"
	case result.Replayed:
		outcome = "replayed"
	}
	metrics.LedgerAppends.WithLabelValues(string(txType.Direction), outcome).Inc()

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LedgerService) appendLocked(ctx context.Context, req AppendRequest, txType *models.TransactionType) (*AppendResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.store.lockAccount(ctx, tx, req.AccountID)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != nil {
		existing, err := s.store.findByIdempotencyKey(ctx, tx, req.AccountID, *req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &AppendResult{Transaction: *existing, Replayed: true}, nil
		}
	}

	current, lastAt, ok, err := s.store.latestSnapshot(ctx, tx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if !ok {
		current = account.TokenBalance
	}

	if req.CurrentBalance != nil && *req.CurrentBalance != current {
		return nil, fmt.Errorf("%w: expected %d, found %d", ErrBalanceConflict, *req.CurrentBalance, current)
	}

	createdAt := s.now().UTC().Truncate(time.Microsecond)
	if ok && !createdAt.After(lastAt) {
		createdAt = lastAt.Add(time.Microsecond)
	}

	signed := SignedAmount(req.Amount, txType.Direction)
	t := models.Transaction{
		ID:                uuid.New().String(),
		AccountID:         account.ID,
		Amount:            signed,
		Direction:         txType.Direction,
		AvailableTokens:   current + signed,
		TransactionTypeID: txType.ID,
		TransactionType:   txType.Code,
		Note:              req.Note,
		IdempotencyKey:    req.IdempotencyKey,
		ActorID:           req.Actor.ID,
		CreatedAt:         createdAt,
	}
	if err := s.store.insertTransaction(ctx, tx, &t); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	action := models.AuditCreditIssued
	if txType.Direction == models.DirectionDebit {
		action = models.AuditDebitIssued
	}
	details := models.Metadata{
		"accountId":       account.ID,
		"amount":          req.Amount,
		"transactionType": txType.Code,
		"balanceBefore":   current,
		"balanceAfter":    t.AvailableTokens,
	}
	if req.Note != nil {
		details["note"] = *req.Note
	}
	if _, err := s.audit.RecordTx(ctx, tx, RecordInput{
		Action: action,
		Actor:  req.Actor,
		Target: &models.AuditTarget{
			Type:  "account",
			ID:    account.ID,
			Name:  account.DisplayName,
			Email: account.Email,
		},
		Details:       details,
		CorrelationID: &t.ID,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"account_id": account.ID,
		"actor":      req.Actor.Email,
		"amount":     signed,
		"balance":    t.AvailableTokens,
	}).Info("ledger transaction appended")

	return &AppendResult{Transaction: t}, nil
}

// SignedAmount applies the direction's sign to a positive amount.
func SignedAmount(amount int64, direction models.Direction) int64 {
	if direction == models.DirectionDebit {
		return -amount
	}
	return amount
}

// VerifyBalanceTrace checks that every snapshot equals the previous snapshot
// plus the signed amount, with fallback as the base of the oldest entry.
// txs must be ordered newest first.
func VerifyBalanceTrace(fallback int64, txs []models.Transaction) error {
	for i := range txs {
		base := fallback
		if i+1 < len(txs) {
			base = txs[i+1].AvailableTokens
		}
		if txs[i].AvailableTokens != base+txs[i].Amount {
			return fmt.Errorf("%w at transaction %s: %d + %d != %d",
				ErrBalanceTraceBroken, txs[i].ID, base, txs[i].Amount, txs[i].AvailableTokens)
		}
	}
	return nil
}
