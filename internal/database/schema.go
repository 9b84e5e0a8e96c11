package database

import (
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id            VARCHAR(32) PRIMARY KEY,
		email         TEXT NOT NULL DEFAULT '',
		display_name  TEXT NOT NULL DEFAULT '',
		token_balance BIGINT NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS transaction_types (
		id        SERIAL PRIMARY KEY,
		code      VARCHAR(64) NOT NULL UNIQUE,
		label     TEXT NOT NULL,
		direction VARCHAR(6) NOT NULL CHECK (direction IN ('credit', 'debit'))
	)`,
	`INSERT INTO transaction_types (code, label, direction) VALUES
		('admin_credit', 'Admin Credit', 'credit'),
		('admin_debit', 'Admin Debit', 'debit'),
		('round_reward', 'Round Reward', 'credit'),
		('purchase', 'Purchase', 'debit')
	ON CONFLICT (code) DO NOTHING`,
	`CREATE TABLE IF NOT EXISTS token_transactions (
		id                  UUID PRIMARY KEY,
		account_id          VARCHAR(32) NOT NULL REFERENCES accounts(id),
		amount              BIGINT NOT NULL,
		direction           VARCHAR(6) NOT NULL,
		available_tokens    BIGINT NOT NULL,
		transaction_type_id INT NOT NULL REFERENCES transaction_types(id),
		note                TEXT,
		idempotency_key     TEXT,
		actor_id            TEXT NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS token_transactions_account_created_idx
		ON token_transactions (account_id, created_at DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS token_transactions_idempotency_idx
		ON token_transactions (account_id, idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE TABLE IF NOT EXISTS administrators (
		id         UUID PRIMARY KEY,
		email      TEXT NOT NULL UNIQUE,
		name       TEXT NOT NULL,
		role       VARCHAR(16) NOT NULL CHECK (role IN ('super_admin', 'club_admin')),
		club_scope TEXT[] NOT NULL DEFAULT '{}',
		features   TEXT[] NOT NULL DEFAULT '{}',
		is_active  BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS audit_entries (
		id             UUID PRIMARY KEY,
		action         VARCHAR(64) NOT NULL,
		actor_id       TEXT NOT NULL,
		actor_email    TEXT NOT NULL,
		actor_name     TEXT NOT NULL,
		target_type    TEXT,
		target_id      TEXT,
		target_name    TEXT,
		target_email   TEXT,
		details        JSONB NOT NULL DEFAULT '{}',
		correlation_id TEXT,
		created_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_created_idx ON audit_entries (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS audit_entries_correlation_idx ON audit_entries (correlation_id)`,
	`CREATE TABLE IF NOT EXISTS audit_outbox (
		id              UUID PRIMARY KEY,
		audit_entry_id  UUID NOT NULL REFERENCES audit_entries(id),
		payload         JSONB NOT NULL,
		status          VARCHAR(16) NOT NULL DEFAULT 'PENDING',
		attempts        INT NOT NULL DEFAULT 0,
		last_error      TEXT,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		published_at    TIMESTAMPTZ,
		created_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS audit_outbox_pending_idx ON audit_outbox (status, next_attempt_at)`,
}

// Migrate applies the schema statements in order.
func Migrate(db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}
