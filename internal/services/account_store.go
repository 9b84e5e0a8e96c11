package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clubtokens/console-backend/internal/models"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const transactionColumns = `t.id, t.account_id, t.amount, t.direction, t.available_tokens,
	t.transaction_type_id, tt.code, t.note, t.idempotency_key, t.actor_id, t.created_at`

// AccountStore reads accounts and their transaction log. Accounts are owned
// elsewhere; nothing here writes to the accounts table.
type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, token_balance, created_at
		FROM accounts WHERE id = $1`, accountID))
}

// lockAccount takes the row lock that backs the per-account serialization.
func (s *AccountStore) lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	return scanAccount(tx.QueryRowContext(ctx, `
		SELECT id, email, display_name, token_balance, created_at
		FROM accounts WHERE id = $1 FOR UPDATE`, accountID))
}

func scanAccount(row *sql.Row) (*models.Account, error) {
	var account models.Account
	err := row.Scan(&account.ID, &account.Email, &account.DisplayName, &account.TokenBalance, &account.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// latestSnapshot returns the available_tokens and timestamp of the most recent
// transaction. ok is false when the account has none.
func (s *AccountStore) latestSnapshot(ctx context.Context, q querier, accountID string) (balance int64, at time.Time, ok bool, err error) {
	err = q.QueryRowContext(ctx, `
		SELECT available_tokens, created_at FROM token_transactions
		WHERE account_id = $1 ORDER BY created_at DESC LIMIT 1`, accountID).Scan(&balance, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return balance, at, true, nil
}

func (s *AccountStore) findByIdempotencyKey(ctx context.Context, tx *sql.Tx, accountID, key string) (*models.Transaction, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM token_transactions t JOIN transaction_types tt ON tt.id = t.transaction_type_id
		WHERE t.account_id = $1 AND t.idempotency_key = $2`, accountID, key)

	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return t, err
}

func (s *AccountStore) insertTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO token_transactions (id, account_id, amount, direction, available_tokens,
			transaction_type_id, note, idempotency_key, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AccountID, t.Amount, t.Direction, t.AvailableTokens,
		t.TransactionTypeID, t.Note, t.IdempotencyKey, t.ActorID, t.CreatedAt)
	return err
}

// ListTransactions returns up to limit transactions, newest first. limit <= 0
// returns the full history.
func (s *AccountStore) ListTransactions(ctx context.Context, accountID string, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM token_transactions t JOIN transaction_types tt ON tt.id = t.transaction_type_id
		WHERE t.account_id = $1 ORDER BY t.created_at DESC`
	args := []any{accountID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var note, key sql.NullString
	err := row.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Direction, &t.AvailableTokens,
		&t.TransactionTypeID, &t.TransactionType, &note, &key, &t.ActorID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if note.Valid {
		t.Note = &note.String
	}
	if key.Valid {
		t.IdempotencyKey = &key.String
	}
	return &t, nil
}
