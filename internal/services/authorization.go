package services

import (
	"strings"

	"github.com/clubtokens/console-backend/internal/metrics"
	"github.com/clubtokens/console-backend/internal/models"
)

// Operation is the closed set of privileged operations checked by the gate.
// Adding one requires adding a rule to operationRules.
type Operation int

const (
	OpUnspecified Operation = iota
	OpViewLedger
	OpCreditTokens
	OpDebitTokens
	OpSendNotification
	OpViewAuditLog
	OpManageAdmins
)

func (op Operation) String() string {
	switch op {
	case OpViewLedger:
		return "view_ledger"
	case OpCreditTokens:
		return "credit_tokens"
	case OpDebitTokens:
		return "debit_tokens"
	case OpSendNotification:
		return "send_notification"
	case OpViewAuditLog:
		return "view_audit_log"
	case OpManageAdmins:
		return "manage_admins"
	default:
		return "unspecified"
	}
}

type operationRule struct {
	feature        models.Feature
	superAdminOnly bool
}

var operationRules = map[Operation]operationRule{
	OpViewLedger:       {feature: models.FeatureTokens},
	OpCreditTokens:     {feature: models.FeatureTokens},
	OpDebitTokens:      {feature: models.FeatureTokens},
	OpSendNotification: {feature: models.FeatureNotifications},
	OpViewAuditLog:     {feature: models.FeatureAuditLog},
	OpManageAdmins:     {feature: models.FeatureAdminUsers, superAdminOnly: true},
}

const (
	ReasonInactive        = "administrator inactive"
	ReasonFeature         = "feature not enabled"
	ReasonClubScope       = "account not in assigned clubs"
	ReasonSuperAdminOnly  = "operation requires super admin"
	ReasonUnknownOp       = "unknown operation"
	ReasonUnknownRole     = "unknown role"
	ReasonNoAdministrator = "no admin access"
)

const clubPrefixWidth = 5

// OperationContext carries what the operation targets.
type OperationContext struct {
	AccountID string
}

// Decision is the gate's answer. Reason is for display only.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(reason string) Decision { return Decision{Reason: reason} }

// Err converts a denial into a *DeniedError, or nil when allowed.
func (d Decision) Err(op Operation) error {
	if d.Allowed {
		return nil
	}
	return &DeniedError{Operation: op, Reason: d.Reason}
}

// AuthorizationGate decides whether an administrator may perform an operation.
// It holds no state; the administrator snapshot must be fetched fresh per request.
type AuthorizationGate struct{}

func NewAuthorizationGate() *AuthorizationGate {
	return &AuthorizationGate{}
}

// Authorize is a pure function of its inputs.
func (g *AuthorizationGate) Authorize(admin *models.Administrator, op Operation, opCtx OperationContext) Decision {
	decision := decide(admin, op, opCtx)

	result := "allow"
	if !decision.Allowed {
		result = "deny"
	}
	metrics.AuthorizationDecisions.WithLabelValues(op.String(), result).Inc()

	return decision
}

// Check is Authorize returning a *DeniedError on denial.
func (g *AuthorizationGate) Check(admin *models.Administrator, op Operation, opCtx OperationContext) error {
	return g.Authorize(admin, op, opCtx).Err(op)
}

func decide(admin *models.Administrator, op Operation, opCtx OperationContext) Decision {
	if admin == nil {
		return deny(ReasonNoAdministrator)
	}
	if !admin.IsActive {
		return deny(ReasonInactive)
	}

	rule, known := operationRules[op]
	if !known {
		return deny(ReasonUnknownOp)
	}

	switch admin.Role {
	case models.RoleSuperAdmin:
		return allow()
	case models.RoleClubAdmin:
	default:
		return deny(ReasonUnknownRole)
	}

	if rule.superAdminOnly {
		return deny(ReasonSuperAdminOnly)
	}
	if !admin.HasFeature(rule.feature) {
		return deny(ReasonFeature)
	}
	if opCtx.AccountID != "" && !InClubScope(opCtx.AccountID, admin.ClubScope) {
		return deny(ReasonClubScope)
	}
	return allow()
}

// InClubScope reports whether the account identifier's 5-character club prefix
// matches any of the scope ids, both compared left-zero-padded to 5 characters.
func InClubScope(accountID string, scope []string) bool {
	prefix := accountID
	if len(prefix) > clubPrefixWidth {
		prefix = prefix[:clubPrefixWidth]
	}
	prefix = padClubID(prefix)

	for _, club := range scope {
		if padClubID(strings.TrimSpace(club)) == prefix {
			return true
		}
	}
	return false
}

func padClubID(id string) string {
	if len(id) >= clubPrefixWidth {
		return id
	}
	return strings.Repeat("0", clubPrefixWidth-len(id)) + id
}
