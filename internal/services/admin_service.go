package services

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var errClubScopeRequired = errors.New("club_admin requires at least one club scope id")

// AdminInput carries the mutable attributes of an administrator.
type AdminInput struct {
	Email     string           `json:"email" validate:"required,email,max=254"`
	Name      string           `json:"name" validate:"required,max=200"`
	Role      models.Role      `json:"role" validate:"required,oneof=super_admin club_admin"`
	ClubScope []string         `json:"clubScope" validate:"dive,numeric,max=5"`
	Features  []models.Feature `json:"features" validate:"dive,oneof=tokens notifications admin_users audit_log"`
}

// AdminService guards directory mutations with the authorization gate and
// audits each one in the same database transaction.
type AdminService struct {
	db                    *sql.DB
	directory             *AdminDirectory
	audit                 *AuditTrailService
	gate                  *AuthorizationGate
	validator             *ValidationHelper
	allowSelfDeactivation bool
	logger                logrus.FieldLogger
	now                   func() time.Time
}

func NewAdminService(db *sql.DB, directory *AdminDirectory, audit *AuditTrailService, gate *AuthorizationGate, allowSelfDeactivation bool, logger logrus.FieldLogger) *AdminService {
	return &AdminService{
		db:                    db,
		directory:             directory,
		audit:                 audit,
		gate:                  gate,
		validator:             NewValidationHelper(),
		allowSelfDeactivation: allowSelfDeactivation,
		logger:                logger.WithField("component", "admin"),
		now:                   time.Now,
	}
}

// parseAdminID returns the canonical form of id. Anything that is not a UUID
// cannot name an administrator.
func parseAdminID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", ErrAdminNotFound
	}
	return parsed.String(), nil
}

func (s *AdminService) validate(in *AdminInput) error {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Name = strings.TrimSpace(in.Name)
	if in.ClubScope == nil {
		in.ClubScope = []string{}
	}
	if in.Features == nil {
		in.Features = []models.Feature{}
	}

	if err := s.validator.ValidateStruct(in); err != nil {
		return newValidationError(err)
	}
	if in.Role == models.RoleClubAdmin && len(in.ClubScope) == 0 {
		return newValidationError(errClubScopeRequired)
	}
	return nil
}

// GetByEmail returns the administrator. Reading anyone other than oneself
// requires admin management rights.
func (s *AdminService) GetByEmail(ctx context.Context, actor *models.Administrator, email string) (*models.Administrator, error) {
	if actor == nil || !strings.EqualFold(actor.Email, email) {
		if err := s.gate.Check(actor, OpManageAdmins, OperationContext{}); err != nil {
			return nil, err
		}
	}
	return s.directory.GetByEmail(ctx, email)
}

func (s *AdminService) Create(ctx context.Context, actor *models.Administrator, in AdminInput) (*models.Administrator, error) {
	if err := s.gate.Check(actor, OpManageAdmins, OperationContext{}); err != nil {
		return nil, err
	}
	if err := s.validate(&in); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	admin := &models.Administrator{
		ID:        uuid.New().String(),
		Email:     in.Email,
		Name:      in.Name,
		Role:      in.Role,
		ClubScope: in.ClubScope,
		Features:  in.Features,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.directory.insert(ctx, tx, admin); err != nil {
			return err
		}
		return s.record(ctx, tx, actor, models.AuditAdminUserCreated, admin, models.Metadata{
			"role":      admin.Role,
			"clubScope": admin.ClubScope,
			"features":  admin.Features,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"actor": actor.Email, "admin": admin.Email}).Info("administrator created")
	return admin, nil
}

// Update replaces role, club scope, features and name. Email is immutable.
func (s *AdminService) Update(ctx context.Context, actor *models.Administrator, id string, in AdminInput) (*models.Administrator, error) {
	if err := s.gate.Check(actor, OpManageAdmins, OperationContext{}); err != nil {
		return nil, err
	}
	id, err := parseAdminID(id)
	if err != nil {
		return nil, err
	}

	var updated *models.Administrator
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.directory.lockByID(ctx, tx, id)
		if err != nil {
			return err
		}

		in.Email = current.Email
		if err := s.validate(&in); err != nil {
			return err
		}

		next := *current
		next.Name = in.Name
		next.Role = in.Role
		next.ClubScope = in.ClubScope
		next.Features = in.Features
		next.UpdatedAt = s.now().UTC()

		if err := s.directory.update(ctx, tx, &next); err != nil {
			return err
		}
		updated = &next

		return s.record(ctx, tx, actor, models.AuditAdminUserUpdated, &next, models.Metadata{
			"before": adminAttributes(current),
			"after":  adminAttributes(&next),
		})
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Deactivate soft-deletes the administrator. The record and its history remain.
func (s *AdminService) Deactivate(ctx context.Context, actor *models.Administrator, id string) (*models.Administrator, error) {
	if err := s.gate.Check(actor, OpManageAdmins, OperationContext{}); err != nil {
		return nil, err
	}
	id, err := parseAdminID(id)
	if err != nil {
		return nil, err
	}
	if s.isSelf(actor, id) && !s.allowSelfDeactivation {
		return nil, ErrSelfDeactivation
	}
	return s.setActive(ctx, actor, id, false)
}

func (s *AdminService) Reactivate(ctx context.Context, actor *models.Administrator, id string) (*models.Administrator, error) {
	if err := s.gate.Check(actor, OpManageAdmins, OperationContext{}); err != nil {
		return nil, err
	}
	id, err := parseAdminID(id)
	if err != nil {
		return nil, err
	}
	return s.setActive(ctx, actor, id, true)
}

func (s *AdminService) isSelf(actor *models.Administrator, id string) bool {
	return strings.EqualFold(actor.ID, id)
}

func (s *AdminService) setActive(ctx context.Context, actor *models.Administrator, id string, active bool) (*models.Administrator, error) {
	action := models.AuditAdminUserDeactivated
	if active {
		action = models.AuditAdminUserReactivated
	}

	var admin *models.Administrator
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		current, err := s.directory.lockByID(ctx, tx, id)
		if err != nil {
			return err
		}
		// Checked again on the locked row in case the caller's id differs only in form.
		if !active && s.isSelf(actor, current.ID) && !s.allowSelfDeactivation {
			return ErrSelfDeactivation
		}
		if current.IsActive == active {
			return ErrAlreadyInState
		}

		current.IsActive = active
		current.UpdatedAt = s.now().UTC()
		if err := s.directory.setActive(ctx, tx, id, active, current.UpdatedAt); err != nil {
			return err
		}
		admin = current

		return s.record(ctx, tx, actor, action, current, nil)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"actor": actor.Email, "admin": admin.Email, "active": active}).Info("administrator status changed")
	return admin, nil
}

func (s *AdminService) record(ctx context.Context, tx *sql.Tx, actor *models.Administrator, action models.AuditAction, target *models.Administrator, details models.Metadata) error {
	_, err := s.audit.RecordTx(ctx, tx, RecordInput{
		Action: action,
		Actor:  actor.AsActor(),
		Target: &models.AuditTarget{
			Type:  "administrator",
			ID:    target.ID,
			Name:  target.Name,
			Email: target.Email,
		},
		Details: details,
	})
	return err
}

func (s *AdminService) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func adminAttributes(a *models.Administrator) map[string]any {
	return map[string]any{
		"name":      a.Name,
		"role":      a.Role,
		"clubScope": a.ClubScope,
		"features":  a.Features,
	}
}
