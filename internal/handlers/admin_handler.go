package handlers

import (
	"context"
	"net/http"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

// AdminAPI is the subset of services.AdminService the admin endpoints use.
type AdminAPI interface {
	GetByEmail(ctx context.Context, actor *models.Administrator, email string) (*models.Administrator, error)
	Create(ctx context.Context, actor *models.Administrator, in services.AdminInput) (*models.Administrator, error)
	Update(ctx context.Context, actor *models.Administrator, id string, in services.AdminInput) (*models.Administrator, error)
	Deactivate(ctx context.Context, actor *models.Administrator, id string) (*models.Administrator, error)
	Reactivate(ctx context.Context, actor *models.Administrator, id string) (*models.Administrator, error)
}

type AdminHandler struct {
	admins AdminAPI
	logger logrus.FieldLogger
}

func NewAdminHandler(admins AdminAPI, logger logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{
		admins: admins,
		logger: logger.WithField("component", "admin_handler"),
	}
}

// Me returns the calling administrator's own record
// @Summary Current administrator
// @Tags Admins
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Administrator
// @Failure 403 {object} services.ErrorResponse
// @Router /admins/me [get]
func (h *AdminHandler) Me(w http.ResponseWriter, r *http.Request) {
	admin, ok := currentAdmin(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

// GetByEmail looks up an administrator by email
// @Summary Get administrator
// @Tags Admins
// @Produce json
// @Security BearerAuth
// @Param email path string true "Administrator email"
// @Success 200 {object} models.Administrator
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admins/{email} [get]
func (h *AdminHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	admin, err := h.admins.GetByEmail(r.Context(), actor, chi.URLParam(r, "email"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

// Create adds an administrator
// @Summary Create administrator
// @Tags Admins
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.AdminInput true "Administrator"
// @Success 201 {object} models.Administrator
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admins [post]
func (h *AdminHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	var in services.AdminInput
	if !decodeJSON(w, r, &in) {
		return
	}

	admin, err := h.admins.Create(r.Context(), actor, in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

// Update changes an administrator's name, role, club scope and features
// @Summary Update administrator
// @Tags Admins
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Administrator ID"
// @Param request body services.AdminInput true "Administrator"
// @Success 200 {object} models.Administrator
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /admins/{id} [put]
func (h *AdminHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	var in services.AdminInput
	if !decodeJSON(w, r, &in) {
		return
	}

	admin, err := h.admins.Update(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

// Deactivate disables an administrator without deleting the record
// @Summary Deactivate administrator
// @Tags Admins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Administrator ID"
// @Success 200 {object} models.Administrator
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admins/{id} [delete]
func (h *AdminHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	admin, err := h.admins.Deactivate(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, admin)
}

// Reactivate re-enables a deactivated administrator
// @Summary Reactivate administrator
// @Tags Admins
// @Produce json
// @Security BearerAuth
// @Param id path string true "Administrator ID"
// @Success 200 {object} models.Administrator
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admins/{id}/reactivate [post]
func (h *AdminHandler) Reactivate(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	admin, err := h.admins.Reactivate(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, admin)
}
