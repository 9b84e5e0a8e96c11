package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/clubtokens/console-backend/internal/services"
	"github.com/sirupsen/logrus"
)

const adminKey contextKey = "administrator"

// AdminLookup resolves the authenticated email to a directory record.
type AdminLookup interface {
	GetByEmail(ctx context.Context, email string) (*models.Administrator, error)
}

// RequireAdmin loads the administrator fresh on every request. Inactive
// administrators still pass here; the authorization gate denies them per operation.
func RequireAdmin(lookup AdminLookup, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, ok := EmailFromContext(r.Context())
			if !ok {
				services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
				return
			}

			admin, err := lookup.GetByEmail(r.Context(), email)
			if errors.Is(err, services.ErrAdminNotFound) {
				services.SendErrorResponse(w, services.ReasonNoAdministrator, http.StatusForbidden, nil)
				return
			}
			if err != nil {
				logger.WithError(err).WithField("email", email).Error("administrator lookup failed")
				services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAdmin(r.Context(), admin)))
		})
	}
}

func WithAdmin(ctx context.Context, admin *models.Administrator) context.Context {
	return context.WithValue(ctx, adminKey, admin)
}

func AdminFromContext(ctx context.Context) *models.Administrator {
	admin, _ := ctx.Value(adminKey).(*models.Administrator)
	return admin
}
