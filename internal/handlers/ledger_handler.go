package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const idempotencyHeader = "Idempotency-Key"

// TokenAPI is the subset of services.TokenService the ledger endpoints use.
type TokenAPI interface {
	Balance(ctx context.Context, actor *models.Administrator, accountID string) (*models.AccountBalance, error)
	Transactions(ctx context.Context, actor *models.Administrator, accountID string, limit int) ([]models.Transaction, error)
	TransactionTypes(ctx context.Context, actor *models.Administrator) ([]models.TransactionType, error)
	Issue(ctx context.Context, actor *models.Administrator, accountID string, req services.IssueRequest, idempotencyKey string) (*services.AppendResult, error)
}

type LedgerHandler struct {
	tokens   TokenAPI
	maxLimit int
	logger   logrus.FieldLogger
}

func NewLedgerHandler(tokens TokenAPI, maxLimit int, logger logrus.FieldLogger) *LedgerHandler {
	if maxLimit <= 0 {
		maxLimit = 200
	}
	return &LedgerHandler{
		tokens:   tokens,
		maxLimit: maxLimit,
		logger:   logger.WithField("component", "ledger_handler"),
	}
}

// GetAccount returns an account with its current balance
// @Summary Get account balance
// @Description Resolve the account's current token balance
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Success 200 {object} models.AccountBalance
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId} [get]
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	balance, err := h.tokens.Balance(r.Context(), admin, chi.URLParam(r, "accountId"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

// ListTransactions returns the account's transactions, newest first
// @Summary List account transactions
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param limit query int false "Maximum number of transactions"
// @Success 200 {array} models.Transaction
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/transactions [get]
func (h *LedgerHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	limit := h.maxLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			services.SendErrorResponse(w, "limit must be a positive integer", http.StatusBadRequest, nil)
			return
		}
		if n < limit {
			limit = n
		}
	}

	txs, err := h.tokens.Transactions(r.Context(), admin, chi.URLParam(r, "accountId"), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

// CreateTransaction credits or debits an account
// @Summary Issue tokens
// @Description Append a credit or debit. Replays with the same Idempotency-Key return the original transaction.
// @Tags Ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param Idempotency-Key header string false "Idempotency key"
// @Param request body services.IssueRequest true "Transaction"
// @Success 201 {object} services.AppendResult
// @Success 200 {object} services.AppendResult "Idempotent replay"
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /accounts/{accountId}/transactions [post]
func (h *LedgerHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	var req services.IssueRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	result, err := h.tokens.Issue(r.Context(), admin, chi.URLParam(r, "accountId"), req, key)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

// ListTransactionTypes returns the transaction type reference data
// @Summary List transaction types
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.TransactionType
// @Failure 403 {object} services.ErrorResponse
// @Router /transaction-types [get]
func (h *LedgerHandler) ListTransactionTypes(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	types, err := h.tokens.TransactionTypes(r.Context(), admin)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, types)
}
