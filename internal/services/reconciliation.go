package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clubtokens/console-backend/internal/metrics"
	"github.com/sirupsen/logrus"
)

// LedgerGap is a ledger transaction with no audit entry carrying its id.
type LedgerGap struct {
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AuditOrphan is a ledger audit entry whose correlation id matches no transaction.
type AuditOrphan struct {
	AuditEntryID  string `json:"auditEntryId"`
	Action        string `json:"action"`
	CorrelationID string `json:"correlationId"`
}

type ReconciliationReport struct {
	Since             time.Time     `json:"since"`
	MissingAudit      []LedgerGap   `json:"missingAudit"`
	OrphanAudit       []AuditOrphan `json:"orphanAudit"`
	UndeliveredOutbox int           `json:"undeliveredOutbox"`
	BrokenTraces      []string      `json:"brokenTraces"`
}

// Clean reports whether no integrity gap was found.
func (r *ReconciliationReport) Clean() bool {
	return len(r.MissingAudit) == 0 && len(r.OrphanAudit) == 0 &&
		r.UndeliveredOutbox == 0 && len(r.BrokenTraces) == 0
}

// ReconciliationService detects ledger/audit divergence left behind by partial failures.
type ReconciliationService struct {
	db       *sql.DB
	store    *AccountStore
	lookback time.Duration
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewReconciliationService(db *sql.DB, store *AccountStore, lookback time.Duration, logger logrus.FieldLogger) *ReconciliationService {
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	return &ReconciliationService{
		db:       db,
		store:    store,
		lookback: lookback,
		logger:   logger.WithField("component", "reconciliation"),
		now:      time.Now,
	}
}

func (s *ReconciliationService) FindGaps(ctx context.Context, since time.Time) (*ReconciliationReport, error) {
	report := &ReconciliationReport{
		Since:        since,
		MissingAudit: []LedgerGap{},
		OrphanAudit:  []AuditOrphan{},
		BrokenTraces: []string{},
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.account_id, t.created_at FROM token_transactions t
		LEFT JOIN audit_entries a ON a.correlation_id = t.id::text
		WHERE t.created_at >= $1 AND a.id IS NULL`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var gap LedgerGap
		if err := rows.Scan(&gap.TransactionID, &gap.AccountID, &gap.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		report.MissingAudit = append(report.MissingAudit, gap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT a.id, a.action, a.correlation_id FROM audit_entries a
		LEFT JOIN token_transactions t ON t.id::text = a.correlation_id
		WHERE a.action IN ('credit_issued', 'debit_issued') AND a.created_at >= $1 AND t.id IS NULL`, since)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var orphan AuditOrphan
		var correlationID sql.NullString
		if err := rows.Scan(&orphan.AuditEntryID, &orphan.Action, &correlationID); err != nil {
			rows.Close()
			return nil, err
		}
		orphan.CorrelationID = correlationID.String
		report.OrphanAudit = append(report.OrphanAudit, orphan)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_outbox WHERE status = $1`, OutboxFailed).Scan(&report.UndeliveredOutbox); err != nil {
		return nil, err
	}

	metrics.ReconciliationGaps.WithLabelValues("missing_audit").Set(float64(len(report.MissingAudit)))
	metrics.ReconciliationGaps.WithLabelValues("orphan_audit").Set(float64(len(report.OrphanAudit)))
	metrics.ReconciliationGaps.WithLabelValues("undelivered_audit").Set(float64(report.UndeliveredOutbox))

	for _, gap := range report.MissingAudit {
		s.logger.WithFields(logrus.Fields{
			"transaction_id": gap.TransactionID,
			"account_id":     gap.AccountID,
		}).Error("ledger transaction has no audit entry")
	}
	for _, orphan := range report.OrphanAudit {
		s.logger.WithFields(logrus.Fields{
			"audit_entry_id": orphan.AuditEntryID,
			"correlation_id": orphan.CorrelationID,
		}).Error("audit entry references missing ledger transaction")
	}
	if report.UndeliveredOutbox > 0 {
		s.logger.WithField("count", report.UndeliveredOutbox).Error("audit entries abandoned by the outbox relay")
	}

	return report, nil
}

// VerifyAccount checks the balance trace of the account's full history.
func (s *ReconciliationService) VerifyAccount(ctx context.Context, accountID string) error {
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	txs, err := s.store.ListTransactions(ctx, accountID, 0)
	if err != nil {
		return err
	}
	if err := VerifyBalanceTrace(account.TokenBalance, txs); err != nil {
		s.logger.WithError(err).WithField("account_id", accountID).Error("balance trace verification failed")
		return err
	}
	return nil
}

// VerifyRecentAccounts checks the balance trace of every account that
// transacted since the given time and returns the ids whose trace is broken.
func (s *ReconciliationService) VerifyRecentAccounts(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT account_id FROM token_transactions WHERE created_at >= $1 ORDER BY account_id`, since)
	if err != nil {
		return nil, err
	}
	var accountIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		accountIDs = append(accountIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	broken := []string{}
	for _, id := range accountIDs {
		err := s.VerifyAccount(ctx, id)
		switch {
		case err == nil:
		case errors.Is(err, ErrBalanceTraceBroken):
			broken = append(broken, id)
		default:
			return nil, err
		}
	}
	metrics.ReconciliationGaps.WithLabelValues("broken_trace").Set(float64(len(broken)))
	return broken, nil
}

// Reconcile runs the gap scan and the balance trace checks over one window.
func (s *ReconciliationService) Reconcile(ctx context.Context, since time.Time) (*ReconciliationReport, error) {
	report, err := s.FindGaps(ctx, since)
	if err != nil {
		return nil, err
	}
	report.BrokenTraces, err = s.VerifyRecentAccounts(ctx, since)
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Run reconciles the lookback window on every tick until ctx is cancelled.
func (s *ReconciliationService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reconcile(ctx, s.now().Add(-s.lookback)); err != nil && ctx.Err() == nil {
				s.logger.WithError(err).Error("reconciliation scan failed")
			}
		}
	}
}
