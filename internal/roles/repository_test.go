package roles

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/warden-rbac/warden/internal/rbac"
	"github.com/warden-rbac/warden/internal/shared"
)

var roleRowColumns = []string{"id", "name", "code", "status", "role_type", "created_at", "updated_at"}

func newMockRepository(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestRepositoryListAndFind(t *testing.T) {
	repo, mock := newMockRepository(t)
	admin, dept := uuid.New(), uuid.New()
	now := time.Now()

	mock.ExpectQuery(listRolesSQL).WillReturnRows(pgxmock.NewRows(roleRowColumns).
		AddRow(admin, "Admin", "admin", true, rbac.RoleTypeSystem, now, now).
		AddRow(dept, "Dept", "dept", false, rbac.RoleTypeCustom, now, now))

	roles, err := repo.ListRoles(context.Background())
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.Equal(t, rbac.RoleTypeSystem, roles[0].RoleType)
	require.False(t, roles[1].Status)

	mock.ExpectQuery(findRoleSQL).WithArgs(dept).WillReturnError(pgx.ErrNoRows)
	_, err = repo.FindRole(context.Background(), dept)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReplacePermissions(t *testing.T) {
	repo, mock := newMockRepository(t)
	role, p1 := uuid.New(), uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectExec(deletePermissionsSQL).WithArgs(role).WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(insertPermissionsSQL).WithArgs(role, []string{p1.String()}).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(touchRoleSQL).WithArgs(role).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplacePermissions(context.Background(), role, []uuid.UUID{p1}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryClearMenus(t *testing.T) {
	repo, mock := newMockRepository(t)
	role := uuid.New()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	mock.ExpectExec(deleteMenusSQL).WithArgs(role).WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(touchRoleSQL).WithArgs(role).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceMenus(context.Background(), role, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySetStatus(t *testing.T) {
	repo, mock := newMockRepository(t)
	role := uuid.New()

	mock.ExpectExec(setRoleStatusSQL).WithArgs(role, false).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, repo.SetStatus(context.Background(), role, false), shared.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
