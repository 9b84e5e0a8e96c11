package models

import (
	"time"
)

// Direction of a ledger movement
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// TransactionType is immutable reference data describing a kind of ledger movement.
type TransactionType struct {
	ID        int       `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	Label     string    `json:"label" db:"label"`
	Direction Direction `json:"direction" db:"direction"`
}

// Account is owned by the account store; the ledger only reads it.
type Account struct {
	ID           string    `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	DisplayName  string    `json:"displayName" db:"display_name"`
	TokenBalance int64     `json:"tokenBalance" db:"token_balance"` // fallback when the account has no transactions
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}

// Transaction is an immutable ledger entry. Amount is signed: positive for
// credits, negative for debits.
type Transaction struct {
	ID                string    `json:"id" db:"id"`
	AccountID         string    `json:"accountId" db:"account_id"`
	Amount            int64     `json:"amount" db:"amount"`
	Direction         Direction `json:"direction" db:"direction"`
	AvailableTokens   int64     `json:"availableTokens" db:"available_tokens"`
	TransactionTypeID int       `json:"transactionTypeId" db:"transaction_type_id"`
	TransactionType   string    `json:"transactionType" db:"-"`
	Note              *string   `json:"note,omitempty" db:"note"`
	IdempotencyKey    *string   `json:"idempotencyKey,omitempty" db:"idempotency_key"`
	ActorID           string    `json:"actorId" db:"actor_id"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
}

// AccountBalance is the read-time projection of an account's balance.
type AccountBalance struct {
	Account Account `json:"account"`
	Balance int64   `json:"balance"`
}
