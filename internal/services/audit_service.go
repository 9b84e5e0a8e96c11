package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clubtokens/console-backend/internal/metrics"
	"github.com/clubtokens/console-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RecordInput is everything needed to write one audit entry.
type RecordInput struct {
	Action        models.AuditAction
	Actor         models.Actor
	Target        *models.AuditTarget
	Details       models.Metadata
	CorrelationID *string
}

type AuditTrailService struct {
	db              *sql.DB
	validator       *ValidationHelper
	logger          logrus.FieldLogger
	defaultPageSize int
	maxPageSize     int
	now             func() time.Time
}

func NewAuditTrailService(db *sql.DB, defaultPageSize, maxPageSize int, logger logrus.FieldLogger) *AuditTrailService {
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	if maxPageSize < defaultPageSize {
		maxPageSize = defaultPageSize
	}
	return &AuditTrailService{
		db:              db,
		validator:       NewValidationHelper(),
		logger:          logger.WithField("component", "audit"),
		defaultPageSize: defaultPageSize,
		maxPageSize:     maxPageSize,
		now:             time.Now,
	}
}

func (s *AuditTrailService) validate(in RecordInput) error {
	if !in.Action.Valid() {
		return newValidationError(fmt.Errorf("unrecognized audit action %q", in.Action))
	}
	if err := s.validator.ValidateStruct(in.Actor); err != nil {
		return newValidationError(err)
	}
	return nil
}

// Record writes an audit entry and its outbox row in their own transaction.
func (s *AuditTrailService) Record(ctx context.Context, in RecordInput) (*models.AuditEntry, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, s.recordFailed(in, err)
	}
	defer tx.Rollback()

	entry, err := s.RecordTx(ctx, tx, in)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, s.recordFailed(in, err)
	}
	return entry, nil
}

// RecordTx writes the entry inside the caller's transaction, so the audit
// record commits or rolls back together with the mutation it describes.
func (s *AuditTrailService) RecordTx(ctx context.Context, tx *sql.Tx, in RecordInput) (*models.AuditEntry, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	details := in.Details
	if details == nil {
		details = models.Metadata{}
	}

	entry := &models.AuditEntry{
		ID:            uuid.New().String(),
		Action:        in.Action,
		Actor:         in.Actor,
		Target:        in.Target,
		Details:       details,
		CorrelationID: in.CorrelationID,
		CreatedAt:     s.now().UTC(),
	}

	var targetType, targetID, targetName, targetEmail *string
	if t := entry.Target; t != nil {
		targetType, targetID = &t.Type, &t.ID
		targetName, targetEmail = nullIfEmpty(t.Name), nullIfEmpty(t.Email)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO audit_entries (id, action, actor_id, actor_email, actor_name,
			target_type, target_id, target_name, target_email, details, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.ID, entry.Action, entry.Actor.ID, entry.Actor.Email, entry.Actor.Name,
		targetType, targetID, targetName, targetEmail, entry.Details, entry.CorrelationID, entry.CreatedAt)
	if err != nil {
		return nil, s.recordFailed(in, fmt.Errorf("insert audit entry: %w", err))
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, s.recordFailed(in, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_outbox (id, audit_entry_id, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), entry.ID, payload, OutboxPending, entry.CreatedAt)
	if err != nil {
		return nil, s.recordFailed(in, fmt.Errorf("insert audit outbox row: %w", err))
	}

	return entry, nil
}

func (s *AuditTrailService) recordFailed(in RecordInput, err error) error {
	metrics.AuditRecordFailures.WithLabelValues(string(in.Action)).Inc()
	s.logger.WithError(err).WithFields(logrus.Fields{
		"action": in.Action,
		"actor":  in.Actor.Email,
	}).Error("audit record failed")
	return err
}

// PageBounds applies the default and maximum page size.
func (s *AuditTrailService) PageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize > s.maxPageSize {
		pageSize = s.maxPageSize
	}
	return page, pageSize
}

// List returns one page of entries matching every set filter field, newest first.
// A page past the end yields no items and no error.
func (s *AuditTrailService) List(ctx context.Context, filter models.AuditFilter, page, pageSize int) (*models.PaginatedResponse[models.AuditEntry], error) {
	page, pageSize = s.PageBounds(page, pageSize)

	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.Action != "" {
		add("action = $%d", filter.Action)
	}
	if filter.ActorEmail != "" {
		add("LOWER(actor_email) = LOWER($%d)", filter.ActorEmail)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at <= $%d", *filter.To)
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_entries"+where, args...).Scan(&total); err != nil {
		return nil, err
	}

	resp := &models.PaginatedResponse[models.AuditEntry]{
		Items:      []models.AuditEntry{},
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: models.TotalPages(total, pageSize),
	}
	if page > resp.TotalPages {
		return resp, nil
	}
	offset := models.Offset(page, pageSize)

	query := fmt.Sprintf(`SELECT id, action, actor_id, actor_email, actor_name,
		target_type, target_id, target_name, target_email, details, correlation_id, created_at
		FROM audit_entries%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		resp.Items = append(resp.Items, *entry)
	}
	return resp, rows.Err()
}

func scanAuditEntry(row rowScanner) (*models.AuditEntry, error) {
	var entry models.AuditEntry
	var targetType, targetID, targetName, targetEmail, correlationID sql.NullString
	err := row.Scan(&entry.ID, &entry.Action, &entry.Actor.ID, &entry.Actor.Email, &entry.Actor.Name,
		&targetType, &targetID, &targetName, &targetEmail, &entry.Details, &correlationID, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	if targetType.Valid {
		entry.Target = &models.AuditTarget{
			Type:  targetType.String,
			ID:    targetID.String,
			Name:  targetName.String,
			Email: targetEmail.String,
		}
	}
	if correlationID.Valid {
		entry.CorrelationID = &correlationID.String
	}
	return &entry, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
