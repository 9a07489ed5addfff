package rbac

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/warden-rbac/warden/internal/platform/db"
)

// Store reads the role/permission graph.
type Store interface {
	EnabledRoleIDs(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error)
	HasExactPermission(ctx context.Context, roleIDs []uuid.UUID, path string, method Method) (bool, error)
	TemplatedPermissions(ctx context.Context, roleIDs []uuid.UUID, method Method) ([]string, error)
}

// MenuStore reads menu rows.
type MenuStore interface {
	MenusForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]Menu, error)
	AllMenus(ctx context.Context) ([]Menu, error)
}

// WhitelistStore reads operator-managed whitelist entries.
type WhitelistStore interface {
	ActiveWhitelist(ctx context.Context) ([]string, error)
}

// Repository is the Postgres implementation of Store, MenuStore and WhitelistStore.
type Repository struct {
	pool db.Pool
}

// NewRepository constructs the repository.
func NewRepository(pool db.Pool) *Repository {
	return &Repository{pool: pool}
}

const enabledRoleIDsSQL = `SELECT r.id FROM roles r
JOIN user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = $1 AND r.status = TRUE`

// EnabledRoleIDs returns the ids of the subject's enabled roles.
func (r *Repository) EnabledRoleIDs(ctx context.Context, subjectID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, enabledRoleIDsSQL, subjectID)
	if err != nil {
		return nil, fmt.Errorf("rbac: enabled roles: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("rbac: scan role id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const exactPermissionSQL = `SELECT EXISTS (
SELECT 1 FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = ANY($1::uuid[]) AND p.api_path = $2 AND p.http_method = ANY($3::smallint[]) AND p.is_active)`

// HasExactPermission reports whether any of roleIDs holds an active permission
// on exactly path for method or for MethodAll.
func (r *Repository) HasExactPermission(ctx context.Context, roleIDs []uuid.UUID, path string, method Method) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, exactPermissionSQL, uuidStrings(roleIDs), path, methodSet(method)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("rbac: exact permission: %w", err)
	}
	return ok, nil
}

const templatedPermissionsSQL = `SELECT DISTINCT p.api_path FROM permissions p
JOIN role_permissions rp ON rp.permission_id = p.id
WHERE rp.role_id = ANY($1::uuid[]) AND p.http_method = ANY($2::smallint[]) AND p.is_active AND strpos(p.api_path, '{') > 0`

// TemplatedPermissions lists active permission paths containing {name} segments.
func (r *Repository) TemplatedPermissions(ctx context.Context, roleIDs []uuid.UUID, method Method) ([]string, error) {
	rows, err := r.pool.Query(ctx, templatedPermissionsSQL, uuidStrings(roleIDs), methodSet(method))
	if err != nil {
		return nil, fmt.Errorf("rbac: templated permissions: %w", err)
	}
	return collectStrings(rows)
}

const menusForRolesSQL = `SELECT DISTINCT m.id, m.parent_id, m.name, m.path, m.component, m.sort, m.hidden
FROM menus m JOIN role_menus rm ON rm.menu_id = m.id
WHERE rm.role_id = ANY($1::uuid[])
ORDER BY m.sort, m.name`

// MenusForRoles returns the menus granted to any of roleIDs.
func (r *Repository) MenusForRoles(ctx context.Context, roleIDs []uuid.UUID) ([]Menu, error) {
	rows, err := r.pool.Query(ctx, menusForRolesSQL, uuidStrings(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("rbac: role menus: %w", err)
	}
	return collectMenus(rows)
}

const allMenusSQL = `SELECT id, parent_id, name, path, component, sort, hidden FROM menus ORDER BY sort, name`

// AllMenus returns every menu.
func (r *Repository) AllMenus(ctx context.Context) ([]Menu, error) {
	rows, err := r.pool.Query(ctx, allMenusSQL)
	if err != nil {
		return nil, fmt.Errorf("rbac: menus: %w", err)
	}
	return collectMenus(rows)
}

const activeWhitelistSQL = `SELECT path FROM api_whitelist WHERE is_active ORDER BY path`

// ActiveWhitelist returns the enabled whitelist patterns.
func (r *Repository) ActiveWhitelist(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, activeWhitelistSQL)
	if err != nil {
		return nil, fmt.Errorf("rbac: whitelist: %w", err)
	}
	return collectStrings(rows)
}

func collectMenus(rows pgx.Rows) ([]Menu, error) {
	defer rows.Close()
	var menus []Menu
	for rows.Next() {
		var m Menu
		if err := rows.Scan(&m.ID, &m.ParentID, &m.Name, &m.Path, &m.Component, &m.Sort, &m.Hidden); err != nil {
			return nil, fmt.Errorf("rbac: scan menu: %w", err)
		}
		menus = append(menus, m)
	}
	return menus, rows.Err()
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("rbac: scan: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func methodSet(m Method) []int16 {
	if m == MethodAll {
		return []int16{int16(MethodAll)}
	}
	return []int16{int16(m), int16(MethodAll)}
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
