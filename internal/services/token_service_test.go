package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/clubtokens/console-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenFixture(t *testing.T) (*TokenService, sqlmock.Sqlmock) {
	t.Helper()

	f := newLedgerFixture(t)
	return NewTokenService(f.service, NewAuthorizationGate()), f.mock
}

func TestTokenService_IssueDebitNeedsClubScope(t *testing.T) {
	service, mock := newTokenFixture(t)
	expectTransactionTypes(mock)

	_, err := service.Issue(context.Background(), clubAdmin([]string{"20315"}, models.FeatureTokens), "2031600042",
		IssueRequest{TransactionType: "admin_debit", Amount: 10}, "")

	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, OpDebitTokens, denied.Operation)
	assert.Equal(t, ReasonClubScope, denied.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_IssueCredit(t *testing.T) {
	service, mock := newTokenFixture(t)
	actor := clubAdmin([]string{"20315"}, models.FeatureTokens)

	expectTransactionTypes(mock)
	mock.ExpectBegin()
	expectLockedAccount(mock, "2031500042", 100)
	mock.ExpectQuery("WHERE t.account_id = \\$1 AND t.idempotency_key = \\$2").
		WithArgs("2031500042", "req-1").
		WillReturnRows(sqlmock.NewRows(transactionRowColumns))
	expectNoSnapshot(mock, "2031500042")
	mock.ExpectExec("INSERT INTO token_transactions").
		WithArgs(sqlmock.AnyArg(), "2031500042", int64(25), "credit", int64(125), 1, nil, "req-1", "admin-1", fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	expectAuditWrite(mock)
	mock.ExpectCommit()

	result, err := service.Issue(context.Background(), actor, "2031500042",
		IssueRequest{TransactionType: "admin_credit", Amount: 25}, "req-1")
	require.NoError(t, err)
	assert.Equal(t, int64(125), result.Transaction.AvailableTokens)
	assert.False(t, result.Replayed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_IssueRejects(t *testing.T) {
	t.Run("non positive amount", func(t *testing.T) {
		service, mock := newTokenFixture(t)
		expectTransactionTypes(mock)

		_, err := service.Issue(context.Background(), superAdmin(), "2031500042", IssueRequest{TransactionType: "admin_credit"}, "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction type", func(t *testing.T) {
		service, mock := newTokenFixture(t)
		expectTransactionTypes(mock)

		_, err := service.Issue(context.Background(), superAdmin(), "2031500042", IssueRequest{TransactionType: "refund", Amount: 5}, "")
		assert.ErrorIs(t, err, ErrUnknownTransactionType)
	})

	t.Run("missing transaction type", func(t *testing.T) {
		service, mock := newTokenFixture(t)
		expectTransactionTypes(mock)

		_, err := service.Issue(context.Background(), superAdmin(), "2031500042", IssueRequest{Amount: 5}, "")
		var invalid *ValidationError
		assert.True(t, errors.As(err, &invalid))
	})
}

func TestTokenService_IssueDeniedBeforeValidation(t *testing.T) {
	inactive := superAdmin()
	inactive.IsActive = false

	cases := []struct {
		name string
		req  IssueRequest
	}{
		{"zero amount", IssueRequest{TransactionType: "admin_credit"}},
		{"unknown type", IssueRequest{TransactionType: "refund", Amount: 5}},
		{"missing type", IssueRequest{Amount: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			service, mock := newTokenFixture(t)
			expectTransactionTypes(mock)

			_, err := service.Issue(context.Background(), inactive, "2031500042", tc.req, "")
			var denied *DeniedError
			require.True(t, errors.As(err, &denied), "got %v", err)
			assert.Equal(t, ReasonInactive, denied.Reason)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}

	t.Run("debit keeps its operation", func(t *testing.T) {
		service, mock := newTokenFixture(t)
		expectTransactionTypes(mock)

		_, err := service.Issue(context.Background(), inactive, "2031500042", IssueRequest{TransactionType: "admin_debit"}, "")
		var denied *DeniedError
		require.True(t, errors.As(err, &denied))
		assert.Equal(t, OpDebitTokens, denied.Operation)
	})
}

func TestTokenService_TransactionTypes(t *testing.T) {
	service, mock := newTokenFixture(t)
	expectTransactionTypes(mock)

	types, err := service.TransactionTypes(context.Background(), clubAdmin([]string{"20315"}, models.FeatureTokens))
	require.NoError(t, err)
	assert.Len(t, types, 2)

	inactive := clubAdmin([]string{"20315"}, models.FeatureTokens)
	inactive.IsActive = false
	_, err = service.TransactionTypes(context.Background(), inactive)
	var denied *DeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, ReasonInactive, denied.Reason)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenService_Balance(t *testing.T) {
	service, mock := newTokenFixture(t)

	mock.ExpectQuery("FROM accounts WHERE id = \\$1").
		WithArgs("2031500042").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow("2031500042", "member@example.com", "Member", int64(100), fixedNow.Add(-time.Hour)))
	expectSnapshot(mock, "2031500042", 140, fixedNow)

	balance, err := service.Balance(context.Background(), clubAdmin([]string{"20315"}, models.FeatureTokens), "2031500042")
	require.NoError(t, err)
	assert.Equal(t, int64(140), balance.Balance)

	_, err = service.Balance(context.Background(), clubAdmin([]string{"20315"}, models.FeatureTokens), "1111100001")
	var denied *DeniedError
	assert.True(t, errors.As(err, &denied))
	assert.NoError(t, mock.ExpectationsWereMet())
}
