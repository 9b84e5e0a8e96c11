package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clubtokens/console-backend/internal/middleware"
	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTokenAPI struct {
	mock.Mock
}

func (m *MockTokenAPI) Balance(ctx context.Context, actor *models.Administrator, accountID string) (*models.AccountBalance, error) {
	args := m.Called(ctx, actor, accountID)
	balance, _ := args.Get(0).(*models.AccountBalance)
	return balance, args.Error(1)
}

func (m *MockTokenAPI) Transactions(ctx context.Context, actor *models.Administrator, accountID string, limit int) ([]models.Transaction, error) {
	args := m.Called(ctx, actor, accountID, limit)
	txs, _ := args.Get(0).([]models.Transaction)
	return txs, args.Error(1)
}

func (m *MockTokenAPI) TransactionTypes(ctx context.Context, actor *models.Administrator) ([]models.TransactionType, error) {
	args := m.Called(ctx, actor)
	types, _ := args.Get(0).([]models.TransactionType)
	return types, args.Error(1)
}

func (m *MockTokenAPI) Issue(ctx context.Context, actor *models.Administrator, accountID string, req services.IssueRequest, idempotencyKey string) (*services.AppendResult, error) {
	args := m.Called(ctx, actor, accountID, req, idempotencyKey)
	result, _ := args.Get(0).(*services.AppendResult)
	return result, args.Error(1)
}

var testAdmin = &models.Administrator{
	ID:        "admin-1",
	Email:     "club@example.com",
	Name:      "Club Admin",
	Role:      models.RoleClubAdmin,
	ClubScope: []string{"20315"},
	Features:  []models.Feature{models.FeatureTokens, models.FeatureAuditLog},
	IsActive:  true,
}

// asAdmin stands in for RequireAdmin.
func asAdmin(admin *models.Administrator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithAdmin(r.Context(), admin)))
		})
	}
}

func newLedgerRouter(tokens TokenAPI) http.Handler {
	logger, _ := test.NewNullLogger()
	h := NewLedgerHandler(tokens, 50, logger)

	r := chi.NewRouter()
	r.Use(asAdmin(testAdmin))
	r.Get("/transaction-types", h.ListTransactionTypes)
	r.Get("/accounts/{accountId}", h.GetAccount)
	r.Get("/accounts/{accountId}/transactions", h.ListTransactions)
	r.Post("/accounts/{accountId}/transactions", h.CreateTransaction)
	return r
}

func do(handler http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestLedgerHandler_GetAccount(t *testing.T) {
	tokens := new(MockTokenAPI)
	router := newLedgerRouter(tokens)

	tokens.On("Balance", mock.Anything, testAdmin, "2031500042").
		Return(&models.AccountBalance{Account: models.Account{ID: "2031500042"}, Balance: 125}, nil)
	tokens.On("Balance", mock.Anything, testAdmin, "2031600042").
		Return(nil, &services.DeniedError{Operation: services.OpViewLedger, Reason: services.ReasonClubScope})
	tokens.On("Balance", mock.Anything, testAdmin, "2031500099").
		Return(nil, services.ErrAccountNotFound)

	w := do(router, http.MethodGet, "/accounts/2031500042", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var balance models.AccountBalance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	assert.Equal(t, int64(125), balance.Balance)

	w = do(router, http.MethodGet, "/accounts/2031600042", "", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	var errResp services.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, services.ReasonClubScope, errResp.Error)

	w = do(router, http.MethodGet, "/accounts/2031500099", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	tokens.AssertExpectations(t)
}

func TestLedgerHandler_ListTransactions(t *testing.T) {
	tokens := new(MockTokenAPI)
	router := newLedgerRouter(tokens)

	tokens.On("Transactions", mock.Anything, testAdmin, "2031500042", 10).Return([]models.Transaction{{ID: "tx-1"}}, nil).Once()
	tokens.On("Transactions", mock.Anything, testAdmin, "2031500042", 50).Return([]models.Transaction{}, nil).Twice()

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/accounts/2031500042/transactions?limit=10", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/accounts/2031500042/transactions", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/accounts/2031500042/transactions?limit=1000", "", nil).Code, "limit is capped")
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/accounts/2031500042/transactions?limit=-3", "", nil).Code)

	tokens.AssertExpectations(t)
}

func TestLedgerHandler_CreateTransaction(t *testing.T) {
	created := &services.AppendResult{Transaction: models.Transaction{
		ID: "tx-1", AccountID: "2031500042", Amount: 25, Direction: models.DirectionCredit,
		AvailableTokens: 125, TransactionType: "admin_credit", CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
	}}
	credit := services.IssueRequest{TransactionType: "admin_credit", Amount: 25}

	t.Run("created", func(t *testing.T) {
		tokens := new(MockTokenAPI)
		tokens.On("Issue", mock.Anything, testAdmin, "2031500042", credit, "req-1").Return(created, nil)

		w := do(newLedgerRouter(tokens), http.MethodPost, "/accounts/2031500042/transactions",
			`{"type":"admin_credit","amount":25}`, map[string]string{"Idempotency-Key": " req-1 "})
		assert.Equal(t, http.StatusCreated, w.Code)

		var result services.AppendResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
		assert.Equal(t, int64(125), result.Transaction.AvailableTokens)
		tokens.AssertExpectations(t)
	})

	t.Run("replay", func(t *testing.T) {
		tokens := new(MockTokenAPI)
		replay := *created
		replay.Replayed = true
		tokens.On("Issue", mock.Anything, testAdmin, "2031500042", credit, "req-1").Return(&replay, nil)

		w := do(newLedgerRouter(tokens), http.MethodPost, "/accounts/2031500042/transactions",
			`{"type":"admin_credit","amount":25}`, map[string]string{"Idempotency-Key": "req-1"})
		assert.Equal(t, http.StatusOK, w.Code)
	})

	errorCases := []struct {
		name   string
		err    error
		status int
	}{
		{"balance conflict", fmt.Errorf("%w: expected 100, found 125", services.ErrBalanceConflict), http.StatusConflict},
		{"invalid amount", services.ErrInvalidAmount, http.StatusBadRequest},
		{"unknown type", services.ErrUnknownTransactionType, http.StatusBadRequest},
		{"denied", &services.DeniedError{Operation: services.OpCreditTokens, Reason: services.ReasonFeature}, http.StatusForbidden},
		{"storage failure", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			tokens := new(MockTokenAPI)
			tokens.On("Issue", mock.Anything, testAdmin, "2031500042", credit, "").Return(nil, tc.err)

			w := do(newLedgerRouter(tokens), http.MethodPost, "/accounts/2031500042/transactions",
				`{"type":"admin_credit","amount":25}`, nil)
			assert.Equal(t, tc.status, w.Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		tokens := new(MockTokenAPI)
		router := newLedgerRouter(tokens)

		assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/accounts/2031500042/transactions", `{"type":`, nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/accounts/2031500042/transactions", `{"type":"admin_credit","amount":1,"balance":3}`, nil).Code)
		tokens.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("field validation is left to the service", func(t *testing.T) {
		tokens := new(MockTokenAPI)
		tokens.On("Issue", mock.Anything, testAdmin, "2031500042", services.IssueRequest{Amount: 1}, "").
			Return(nil, &services.DeniedError{Operation: services.OpCreditTokens, Reason: services.ReasonInactive})

		w := do(newLedgerRouter(tokens), http.MethodPost, "/accounts/2031500042/transactions", `{"amount":1}`, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), services.ReasonInactive)
		tokens.AssertExpectations(t)
	})
}

func TestLedgerHandler_ListTransactionTypes(t *testing.T) {
	tokens := new(MockTokenAPI)
	tokens.On("TransactionTypes", mock.Anything, testAdmin).Return([]models.TransactionType{
		{ID: 1, Code: "admin_credit", Label: "Admin Credit", Direction: models.DirectionCredit},
	}, nil).Once()
	tokens.On("TransactionTypes", mock.Anything, testAdmin).
		Return(nil, &services.DeniedError{Operation: services.OpViewLedger, Reason: services.ReasonInactive}).Once()

	router := newLedgerRouter(tokens)
	w := do(router, http.MethodGet, "/transaction-types", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"admin_credit"`)

	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/transaction-types", "", nil).Code)
	tokens.AssertExpectations(t)
}

func TestCurrentAdminMissing(t *testing.T) {
	logger, _ := test.NewNullLogger()
	h := NewLedgerHandler(new(MockTokenAPI), 50, logger)

	w := httptest.NewRecorder()
	h.GetAccount(w, httptest.NewRequest(http.MethodGet, "/accounts/2031500042", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
