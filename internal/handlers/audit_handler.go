package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/sirupsen/logrus"
)

type AuditLister interface {
	List(ctx context.Context, filter models.AuditFilter, page, pageSize int) (*models.PaginatedResponse[models.AuditEntry], error)
}

type AuditHandler struct {
	audit  AuditLister
	gate   *services.AuthorizationGate
	logger logrus.FieldLogger
}

func NewAuditHandler(audit AuditLister, gate *services.AuthorizationGate, logger logrus.FieldLogger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		gate:   gate,
		logger: logger.WithField("component", "audit_handler"),
	}
}

// ListAuditEntries returns a page of audit entries, newest first
// @Summary List audit entries
// @Tags Audit
// @Produce json
// @Security BearerAuth
// @Param action query string false "Action kind"
// @Param actorEmail query string false "Actor email"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page number (1-based)"
// @Param pageSize query int false "Page size (max 100)"
// @Success 200 {object} models.PaginatedResponse[models.AuditEntry]
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Router /audit [get]
func (h *AuditHandler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(w, r)
	if !ok {
		return
	}
	if err := h.gate.Check(admin, services.OpViewAuditLog, services.OperationContext{}); err != nil {
		writeError(w, h.logger, err)
		return
	}

	q := r.URL.Query()
	filter := models.AuditFilter{
		Action:     models.AuditAction(q.Get("action")),
		ActorEmail: q.Get("actorEmail"),
	}
	if filter.Action != "" && !filter.Action.Valid() {
		services.SendErrorResponse(w, "unknown action", http.StatusBadRequest, nil)
		return
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		services.SendErrorResponse(w, "from must be an RFC3339 timestamp", http.StatusBadRequest, nil)
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		services.SendErrorResponse(w, "to must be an RFC3339 timestamp", http.StatusBadRequest, nil)
		return
	}

	page, err := parseIntParam(q.Get("page"))
	if err != nil {
		services.SendErrorResponse(w, "page must be an integer", http.StatusBadRequest, nil)
		return
	}
	pageSize, err := parseIntParam(q.Get("pageSize"))
	if err != nil {
		services.SendErrorResponse(w, "pageSize must be an integer", http.StatusBadRequest, nil)
		return
	}

	resp, err := h.audit.List(r.Context(), filter, page, pageSize)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseIntParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
