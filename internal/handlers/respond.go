package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/clubtokens/console-backend/internal/middleware"
	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 1_048_576 // 1 MB

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func currentAdmin(w http.ResponseWriter, r *http.Request) (*models.Administrator, bool) {
	admin := middleware.AdminFromContext(r.Context())
	if admin == nil {
		services.SendErrorResponse(w, services.ReasonNoAdministrator, http.StatusForbidden, nil)
		return nil, false
	}
	return admin, true
}

// writeError maps the service error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	var denied *services.DeniedError
	var invalid *services.ValidationError

	switch {
	case errors.As(err, &denied):
		services.SendErrorResponse(w, denied.Reason, http.StatusForbidden, nil)
	case errors.As(err, &invalid):
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, invalid.Err)
	case errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrUnknownTransactionType):
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrAdminNotFound):
		services.SendErrorResponse(w, "Not found", http.StatusNotFound, nil)
	case conflictError(err) != nil:
		services.SendErrorResponse(w, conflictError(err).Error(), http.StatusConflict, nil)
	case errors.Is(err, services.ErrProviderUnavailable):
		services.SendErrorResponse(w, "Notification provider unavailable, retry later", http.StatusBadGateway, nil)
	default:
		logger.WithError(err).Error("request failed")
		services.SendErrorResponse(w, "Internal server error, retry later", http.StatusInternalServerError, nil)
	}
}

var conflictErrors = []error{
	services.ErrBalanceConflict,
	services.ErrAdminExists,
	services.ErrSelfDeactivation,
	services.ErrAlreadyInState,
}

func conflictError(err error) error {
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return target
		}
	}
	return nil
}
