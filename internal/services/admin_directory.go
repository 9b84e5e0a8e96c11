package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/clubtokens/console-backend/internal/models"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const adminColumns = `id, email, name, role, club_scope, features, is_active, created_at, updated_at`

// AdminDirectory is the store of administrator records.
type AdminDirectory struct {
	db *sql.DB
}

func NewAdminDirectory(db *sql.DB) *AdminDirectory {
	return &AdminDirectory{db: db}
}

// GetByEmail is read on every request so that role and deactivation changes
// apply immediately.
func (d *AdminDirectory) GetByEmail(ctx context.Context, email string) (*models.Administrator, error) {
	return scanAdmin(d.db.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM administrators WHERE LOWER(email) = LOWER($1)`, email))
}

func (d *AdminDirectory) lockByID(ctx context.Context, tx *sql.Tx, id string) (*models.Administrator, error) {
	return scanAdmin(tx.QueryRowContext(ctx,
		`SELECT `+adminColumns+` FROM administrators WHERE id = $1 FOR UPDATE`, id))
}

func (d *AdminDirectory) insert(ctx context.Context, tx *sql.Tx, admin *models.Administrator) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO administrators (id, email, name, role, club_scope, features, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		admin.ID, admin.Email, admin.Name, admin.Role, pq.Array(admin.ClubScope),
		pq.Array(featureStrings(admin.Features)), admin.IsActive, admin.CreatedAt, admin.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrAdminExists
	}
	return err
}

func (d *AdminDirectory) update(ctx context.Context, tx *sql.Tx, admin *models.Administrator) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE administrators SET name = $1, role = $2, club_scope = $3, features = $4, updated_at = $5
		WHERE id = $6`,
		admin.Name, admin.Role, pq.Array(admin.ClubScope), pq.Array(featureStrings(admin.Features)),
		admin.UpdatedAt, admin.ID)
	return err
}

func (d *AdminDirectory) setActive(ctx context.Context, tx *sql.Tx, id string, active bool, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE administrators SET is_active = $1, updated_at = $2 WHERE id = $3`, active, at, id)
	return err
}

func scanAdmin(row rowScanner) (*models.Administrator, error) {
	var admin models.Administrator
	var scope, features []string
	err := row.Scan(&admin.ID, &admin.Email, &admin.Name, &admin.Role,
		pq.Array(&scope), pq.Array(&features), &admin.IsActive, &admin.CreatedAt, &admin.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAdminNotFound
	}
	if err != nil {
		return nil, err
	}

	admin.ClubScope = scope
	if admin.ClubScope == nil {
		admin.ClubScope = []string{}
	}
	admin.Features = make([]models.Feature, 0, len(features))
	for _, f := range features {
		admin.Features = append(admin.Features, models.Feature(f))
	}
	return &admin, nil
}

func featureStrings(features []models.Feature) []string {
	out := make([]string, 0, len(features))
	for _, f := range features {
		out = append(out, string(f))
	}
	return out
}
