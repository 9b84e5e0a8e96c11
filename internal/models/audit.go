package models

import (
	"time"
)

// AuditAction enumerates the privileged mutations that leave an audit entry.
type AuditAction string

const (
	AuditCreditIssued         AuditAction = "credit_issued"
	AuditDebitIssued          AuditAction = "debit_issued"
	AuditNotificationSent     AuditAction = "notification_sent"
	AuditAdminUserCreated     AuditAction = "admin_user_created"
	AuditAdminUserUpdated     AuditAction = "admin_user_updated"
	AuditAdminUserDeactivated AuditAction = "admin_user_deactivated"
	AuditAdminUserReactivated AuditAction = "admin_user_reactivated"
)

var auditActions = map[AuditAction]struct{}{
	AuditCreditIssued:         {},
	AuditDebitIssued:          {},
	AuditNotificationSent:     {},
	AuditAdminUserCreated:     {},
	AuditAdminUserUpdated:     {},
	AuditAdminUserDeactivated: {},
	AuditAdminUserReactivated: {},
}

// Valid reports whether a is a recognized action kind.
func (a AuditAction) Valid() bool {
	_, ok := auditActions[a]
	return ok
}

// Actor identifies the administrator that performed an action.
type Actor struct {
	ID    string `json:"id" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Name  string `json:"name" validate:"required"`
}

// AuditTarget identifies what an action was applied to.
type AuditTarget struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// AuditEntry is an immutable record of a privileged mutation.
type AuditEntry struct {
	ID            string       `json:"id" db:"id"`
	Action        AuditAction  `json:"action" db:"action"`
	Actor         Actor        `json:"actor"`
	Target        *AuditTarget `json:"target,omitempty"`
	Details       Metadata     `json:"details" db:"details"`
	CorrelationID *string      `json:"correlationId,omitempty" db:"correlation_id"`
	CreatedAt     time.Time    `json:"createdAt" db:"created_at"`
}

// AuditFilter is a conjunction of optional constraints on audit entries.
type AuditFilter struct {
	Action     AuditAction
	ActorEmail string
	From       *time.Time
	To         *time.Time
}
