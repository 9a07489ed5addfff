package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/warden-rbac/warden/internal/platform/db"
	"github.com/warden-rbac/warden/internal/rbac"
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

const roleColumns = `id, name, code, status, role_type, created_at, updated_at`

const (
	listRolesSQL         = `SELECT ` + roleColumns + ` FROM roles ORDER BY name`
	findRoleSQL          = `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`
	setRoleStatusSQL     = `UPDATE roles SET status = $2, updated_at = NOW() WHERE id = $1`
	deletePermissionsSQL = `DELETE FROM role_permissions WHERE role_id = $1`
	insertPermissionsSQL = `INSERT INTO role_permissions (role_id, permission_id) SELECT $1, unnest($2::uuid[])`
	deleteMenusSQL       = `DELETE FROM role_menus WHERE role_id = $1`
	insertMenusSQL       = `INSERT INTO role_menus (role_id, menu_id) SELECT $1, unnest($2::uuid[])`
	touchRoleSQL         = `UPDATE roles SET updated_at = NOW() WHERE id = $1`
)

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := r.pool.Query(ctx, listRolesSQL)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	defer rows.Close()
	var out []rbac.Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// FindRole loads one role.
func (r *Repository) FindRole(ctx context.Context, id uuid.UUID) (rbac.Role, error) {
	role, err := scanRole(r.pool.QueryRow(ctx, findRoleSQL, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Role{}, shared.ErrNotFound
	}
	return role, err
}

func scanRole(row pgx.Row) (rbac.Role, error) {
	var role rbac.Role
	if err := row.Scan(&role.ID, &role.Name, &role.Code, &role.Status, &role.RoleType, &role.CreatedAt, &role.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Role{}, err
		}
		return rbac.Role{}, fmt.Errorf("roles: scan: %w", err)
	}
	return role, nil
}

// SetStatus enables or disables a role.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := r.pool.Exec(ctx, setRoleStatusSQL, id, enabled)
	if err != nil {
		return fmt.Errorf("roles: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ReplacePermissions swaps the role's permission grants in one transaction.
func (r *Repository) ReplacePermissions(ctx context.Context, id uuid.UUID, permissionIDs []uuid.UUID) error {
	return r.replace(ctx, id, permissionIDs, deletePermissionsSQL, insertPermissionsSQL)
}

// ReplaceMenus swaps the role's menu grants in one transaction.
func (r *Repository) ReplaceMenus(ctx context.Context, id uuid.UUID, menuIDs []uuid.UUID) error {
	return r.replace(ctx, id, menuIDs, deleteMenusSQL, insertMenusSQL)
}

func (r *Repository) replace(ctx context.Context, id uuid.UUID, ids []uuid.UUID, deleteSQL, insertSQL string) error {
	values := make([]string, len(ids))
	for i, v := range ids {
		values[i] = v.String()
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteSQL, id); err != nil {
			return fmt.Errorf("roles: clear grants: %w", err)
		}
		if len(values) > 0 {
			if _, err := tx.Exec(ctx, insertSQL, id, values); err != nil {
				if db.IsForeignKeyViolation(err) {
					return shared.ErrNotFound
				}
				return fmt.Errorf("roles: insert grants: %w", err)
			}
		}
		if _, err := tx.Exec(ctx, touchRoleSQL, id); err != nil {
			return fmt.Errorf("roles: touch: %w", err)
		}
		return nil
	})
}
