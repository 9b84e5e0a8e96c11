package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/clubtokens/console-backend/internal/metrics"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// OutboxStatus is the delivery state of an audit_outbox row.
type OutboxStatus string

const (
	OutboxPending   OutboxStatus = "PENDING"
	OutboxPublished OutboxStatus = "PUBLISHED"
	OutboxFailed    OutboxStatus = "FAILED"
)

// AuditPublisher delivers a committed audit entry downstream.
type AuditPublisher interface {
	Publish(ctx context.Context, key, payload []byte) error
}

// KafkaAuditPublisher writes audit entries to a Kafka topic keyed by entry id.
type KafkaAuditPublisher struct {
	writer *kafka.Writer
}

func NewKafkaAuditPublisher(brokers []string, topic string) *KafkaAuditPublisher {
	return &KafkaAuditPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			WriteTimeout: 10 * time.Second,
		},
	}
}

func (p *KafkaAuditPublisher) Publish(ctx context.Context, key, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   key,
		Value: payload,
		Time:  time.Now(),
	})
}

func (p *KafkaAuditPublisher) Close() error {
	return p.writer.Close()
}

// LogAuditPublisher emits audit entries to the structured log. Used when no
// Kafka brokers are configured.
type LogAuditPublisher struct {
	logger logrus.FieldLogger
}

func NewLogAuditPublisher(logger logrus.FieldLogger) *LogAuditPublisher {
	return &LogAuditPublisher{logger: logger.WithField("component", "audit_publisher")}
}

func (p *LogAuditPublisher) Publish(_ context.Context, key, payload []byte) error {
	p.logger.WithFields(logrus.Fields{
		"audit_entry_id": string(key),
		"event":          json.RawMessage(payload),
	}).Info("AUDIT")
	return nil
}

// RelayOptions tunes the outbox relay.
type RelayOptions struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
}

// DispatchResult summarizes one relay pass.
type DispatchResult struct {
	Processed int
	Published int
	Retried   int
	Failed    int
}

// AuditOutboxRelay moves committed audit entries from audit_outbox to the publisher.
// Delivery is at-least-once; consumers deduplicate on entry id.
type AuditOutboxRelay struct {
	db        *sql.DB
	publisher AuditPublisher
	opts      RelayOptions
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewAuditOutboxRelay(db *sql.DB, publisher AuditPublisher, opts RelayOptions, logger logrus.FieldLogger) *AuditOutboxRelay {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	return &AuditOutboxRelay{
		db:        db,
		publisher: publisher,
		opts:      opts,
		logger:    logger.WithField("component", "audit_relay"),
		now:       time.Now,
	}
}

// Run dispatches on every tick until ctx is cancelled.
func (r *AuditOutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.WithError(err).Error("outbox dispatch failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type outboxRow struct {
	id       string
	entryID  string
	payload  []byte
	attempts int
}

// DispatchOnce claims a batch of due rows and publishes them. Rows are locked
// with SKIP LOCKED so concurrent relays never publish the same row in one pass.
func (r *AuditOutboxRelay) DispatchOnce(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	now := r.now().UTC()
	rows, err := tx.QueryContext(ctx, `
		SELECT id, audit_entry_id, payload, attempts FROM audit_outbox
		WHERE status = $1 AND next_attempt_at <= $2
		ORDER BY created_at LIMIT $3 FOR UPDATE SKIP LOCKED`,
		OutboxPending, now, r.opts.BatchSize)
	if err != nil {
		return result, err
	}

	var batch []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.entryID, &row.payload, &row.attempts); err != nil {
			rows.Close()
			return result, err
		}
		batch = append(batch, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return result, err
	}

	for _, row := range batch {
		result.Processed++
		attempts := row.attempts + 1

		pubErr := r.publisher.Publish(ctx, []byte(row.entryID), row.payload)
		if pubErr == nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE audit_outbox SET status = $1, attempts = $2, published_at = $3, last_error = NULL
				WHERE id = $4`, OutboxPublished, attempts, now, row.id); err != nil {
				return result, err
			}
			metrics.OutboxPublished.WithLabelValues("published").Inc()
			result.Published++
			continue
		}

		status := OutboxPending
		label := "retry"
		if attempts >= r.opts.MaxAttempts {
			status = OutboxFailed
			label = "failed"
			result.Failed++
			r.logger.WithError(pubErr).WithFields(logrus.Fields{
				"audit_entry_id": row.entryID,
				"attempts":       attempts,
			}).Error("audit entry publication abandoned")
		} else {
			result.Retried++
		}
		metrics.OutboxPublished.WithLabelValues(label).Inc()

		if _, err := tx.ExecContext(ctx, `
			UPDATE audit_outbox SET status = $1, attempts = $2, last_error = $3, next_attempt_at = $4
			WHERE id = $5`, status, attempts, pubErr.Error(), now.Add(Backoff(r.opts.BaseBackoff, attempts-1)), row.id); err != nil {
			return result, err
		}
	}

	if err := tx.Commit(); err != nil {
		return result, err
	}
	return result, nil
}

const maxBackoffShift = 30

// Backoff returns base * 2^attempt, saturating instead of overflowing.
func Backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt > maxBackoffShift {
		attempt = maxBackoffShift
	}
	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}
