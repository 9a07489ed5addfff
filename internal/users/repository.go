package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/warden-rbac/warden/internal/platform/db"
	"github.com/warden-rbac/warden/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

const subjectColumns = `id, username, email, COALESCE(mobile, ''), name, user_status, is_active, is_superuser, password_hash,
last_login, COALESCE(last_login_ip, ''), COALESCE(last_login_type, ''), created_at, updated_at`

var (
	findByIDSQL         = `SELECT ` + subjectColumns + ` FROM users WHERE id = $1`
	findByIdentifierSQL = `SELECT ` + subjectColumns + ` FROM users WHERE username = $1 OR mobile = $1 ORDER BY username = $1 DESC LIMIT 1`
)

const (
	setStatusSQL   = `UPDATE users SET user_status = $2, updated_at = NOW() WHERE id = $1`
	recordLoginSQL = `UPDATE users SET last_login = $2, last_login_ip = $3, last_login_type = $4 WHERE id = $1`
	deleteRolesSQL = `DELETE FROM user_roles WHERE user_id = $1`
	insertRolesSQL = `INSERT INTO user_roles (user_id, role_id) SELECT $1, unnest($2::uuid[])`
)

// FindByID loads a subject by id.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return r.scanOne(ctx, findByIDSQL, id)
}

// FindByIdentifier loads a subject by username or mobile number. A username match wins.
func (r *Repository) FindByIdentifier(ctx context.Context, identifier string) (*Subject, error) {
	return r.scanOne(ctx, findByIdentifierSQL, identifier)
}

func (r *Repository) scanOne(ctx context.Context, sql string, arg any) (*Subject, error) {
	var s Subject
	err := r.pool.QueryRow(ctx, sql, arg).Scan(
		&s.ID, &s.Username, &s.Email, &s.Mobile, &s.Name, &s.Status, &s.IsActive, &s.IsSuperuser, &s.PasswordHash,
		&s.LastLogin, &s.LastLoginIP, &s.LastLoginType, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("users: load subject: %w", err)
	}
	return &s, nil
}

// SetStatus updates users.user_status.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, setStatusSQL, id, int16(status))
	if err != nil {
		return fmt.Errorf("users: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RecordLogin stores the last sign-in metadata.
func (r *Repository) RecordLogin(ctx context.Context, id uuid.UUID, rec LoginRecord) error {
	if _, err := r.pool.Exec(ctx, recordLoginSQL, id, rec.At, rec.IP, rec.Type); err != nil {
		return fmt.Errorf("users: record login: %w", err)
	}
	return nil
}

// ReplaceRoles swaps the subject's role set in one transaction.
func (r *Repository) ReplaceRoles(ctx context.Context, id uuid.UUID, roleIDs []uuid.UUID) error {
	ids := make([]string, len(roleIDs))
	for i, roleID := range roleIDs {
		ids[i] = roleID.String()
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteRolesSQL, id); err != nil {
			return fmt.Errorf("users: clear roles: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, insertRolesSQL, id, ids); err != nil {
			if db.IsForeignKeyViolation(err) {
				return shared.ErrNotFound
			}
			return fmt.Errorf("users: insert roles: %w", err)
		}
		return nil
	})
}
