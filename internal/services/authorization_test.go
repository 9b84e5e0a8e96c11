package services

import (
	"errors"
	"testing"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func clubAdmin(scope []string, features ...models.Feature) *models.Administrator {
	return &models.Administrator{
		ID:        "admin-1",
		Email:     "club@example.com",
		Name:      "Club Admin",
		Role:      models.RoleClubAdmin,
		ClubScope: scope,
		Features:  features,
		IsActive:  true,
	}
}

const superAdminID = "6f1c2a7e-4b3d-4c8e-9a51-2d7f0e3b9c10"

func superAdmin() *models.Administrator {
	return &models.Administrator{
		ID:       superAdminID,
		Email:    "root@example.com",
		Name:     "Super Admin",
		Role:     models.RoleSuperAdmin,
		IsActive: true,
	}
}

func TestAuthorizationGate_ClubPrefix(t *testing.T) {
	gate := NewAuthorizationGate()
	admin := clubAdmin([]string{"20315"}, models.FeatureTokens)

	t.Run("account inside assigned club", func(t *testing.T) {
		d := gate.Authorize(admin, OpCreditTokens, OperationContext{AccountID: "2031500042"})
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Reason)
	})

	t.Run("account in another club", func(t *testing.T) {
		d := gate.Authorize(admin, OpCreditTokens, OperationContext{AccountID: "2031600042"})
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonClubScope, d.Reason)
	})

	t.Run("short scope ids are zero padded", func(t *testing.T) {
		padded := clubAdmin([]string{"42"}, models.FeatureTokens)
		assert.True(t, gate.Authorize(padded, OpDebitTokens, OperationContext{AccountID: "0004200001"}).Allowed)
		assert.False(t, gate.Authorize(padded, OpDebitTokens, OperationContext{AccountID: "4200000001"}).Allowed)
	})

	t.Run("no account context skips the prefix check", func(t *testing.T) {
		assert.True(t, gate.Authorize(admin, OpViewLedger, OperationContext{}).Allowed)
	})
}

func TestAuthorizationGate_Rules(t *testing.T) {
	gate := NewAuthorizationGate()

	tests := []struct {
		name    string
		admin   *models.Administrator
		op      Operation
		opCtx   OperationContext
		allowed bool
		reason  string
	}{
		{
			name:   "inactive club admin",
			admin:  func() *models.Administrator { a := clubAdmin([]string{"20315"}, models.FeatureTokens); a.IsActive = false; return a }(),
			op:     OpViewLedger,
			reason: ReasonInactive,
		},
		{
			name:   "inactive super admin",
			admin:  func() *models.Administrator { a := superAdmin(); a.IsActive = false; return a }(),
			op:     OpManageAdmins,
			reason: ReasonInactive,
		},
		{
			name:    "super admin with empty scope on any account",
			admin:   superAdmin(),
			op:      OpCreditTokens,
			opCtx:   OperationContext{AccountID: "9999900001"},
			allowed: true,
		},
		{
			name:    "super admin manages admins",
			admin:   superAdmin(),
			op:      OpManageAdmins,
			allowed: true,
		},
		{
			name:   "club admin without feature",
			admin:  clubAdmin([]string{"20315"}, models.FeatureAuditLog),
			op:     OpCreditTokens,
			opCtx:  OperationContext{AccountID: "2031500042"},
			reason: ReasonFeature,
		},
		{
			name:   "club admin cannot manage admins",
			admin:  clubAdmin([]string{"20315"}, models.FeatureAdminUsers),
			op:     OpManageAdmins,
			reason: ReasonSuperAdminOnly,
		},
		{
			name:    "club admin with notifications feature",
			admin:   clubAdmin([]string{"20315"}, models.FeatureNotifications),
			op:      OpSendNotification,
			opCtx:   OperationContext{AccountID: "2031500001"},
			allowed: true,
		},
		{
			name:    "club admin reads audit log",
			admin:   clubAdmin([]string{"20315"}, models.FeatureAuditLog),
			op:      OpViewAuditLog,
			allowed: true,
		},
		{
			name:   "unknown operation",
			admin:  superAdmin(),
			op:     Operation(99),
			reason: ReasonUnknownOp,
		},
		{
			name:   "unspecified operation",
			admin:  clubAdmin([]string{"20315"}, models.FeatureTokens),
			op:     OpUnspecified,
			reason: ReasonUnknownOp,
		},
		{
			name:   "no administrator",
			admin:  nil,
			op:     OpViewLedger,
			reason: ReasonNoAdministrator,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := gate.Authorize(tt.admin, tt.op, tt.opCtx)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestAuthorizationGate_Deterministic(t *testing.T) {
	gate := NewAuthorizationGate()
	admin := clubAdmin([]string{"20315", "7"}, models.FeatureTokens)
	opCtx := OperationContext{AccountID: "0000700010"}

	first := gate.Authorize(admin, OpDebitTokens, opCtx)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, gate.Authorize(admin, OpDebitTokens, opCtx))
	}
}

func TestAuthorizationGate_Check(t *testing.T) {
	gate := NewAuthorizationGate()

	err := gate.Check(clubAdmin([]string{"20315"}), OpCreditTokens, OperationContext{})

	var denied *DeniedError
	assert.True(t, errors.As(err, &denied))
	assert.Equal(t, OpCreditTokens, denied.Operation)
	assert.Equal(t, ReasonFeature, denied.Reason)

	assert.NoError(t, gate.Check(superAdmin(), OpCreditTokens, OperationContext{}))
}

func TestInClubScope(t *testing.T) {
	assert.True(t, InClubScope("2031500042", []string{"20315"}))
	assert.True(t, InClubScope("2031500042", []string{"11111", " 20315 "}))
	assert.False(t, InClubScope("2031600042", []string{"20315"}))
	assert.False(t, InClubScope("2031500042", nil))
	assert.True(t, InClubScope("123", []string{"00123"}))
}
