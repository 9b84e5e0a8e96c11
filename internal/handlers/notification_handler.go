package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/sirupsen/logrus"
)

type NotificationSender interface {
	Send(ctx context.Context, actor *models.Administrator, req services.NotificationRequest) (*services.NotificationResult, error)
}

type NotificationHandler struct {
	sender NotificationSender
	logger logrus.FieldLogger
}

func NewNotificationHandler(sender NotificationSender, logger logrus.FieldLogger) *NotificationHandler {
	return &NotificationHandler{
		sender: sender,
		logger: logger.WithField("component", "notification_handler"),
	}
}

// Send pushes a notification to member accounts
// @Summary Send notification
// @Tags Notifications
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body services.NotificationRequest true "Notification"
// @Success 202 {object} services.NotificationResult
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /notifications [post]
func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentAdmin(w, r)
	if !ok {
		return
	}

	var req services.NotificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.sender.Send(r.Context(), actor, req)

	// The provider accepted the message; only the audit write failed.
	var partial *services.PartialFailureError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"result":  result,
			"warning": "notification sent but audit record failed",
		})
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
