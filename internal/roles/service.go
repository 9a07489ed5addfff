package roles

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/rbac"
	"github.com/warden-rbac/warden/internal/shared"
)

// RepositoryPort defines data access methods for roles.
type RepositoryPort interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	FindRole(ctx context.Context, id uuid.UUID) (rbac.Role, error)
	SetStatus(ctx context.Context, id uuid.UUID, enabled bool) error
	ReplacePermissions(ctx context.Context, id uuid.UUID, permissionIDs []uuid.UUID) error
	ReplaceMenus(ctx context.Context, id uuid.UUID, menuIDs []uuid.UUID) error
}

// InvalidationHooks is notified after a role's grants change.
type InvalidationHooks interface {
	RoleGrantsChanged(ctx context.Context, roleID uuid.UUID) error
}

// Service handles role business logic.
type Service struct {
	repo   RepositoryPort
	hooks  InvalidationHooks
	logger *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, hooks InvalidationHooks, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, hooks: hooks, logger: logger}
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	return s.repo.ListRoles(ctx)
}

// SetPermissions replaces the role's permission grants.
func (s *Service) SetPermissions(ctx context.Context, id uuid.UUID, permissionIDs []uuid.UUID) error {
	if _, err := s.repo.FindRole(ctx, id); err != nil {
		return err
	}
	if err := s.repo.ReplacePermissions(ctx, id, dedupe(permissionIDs)); err != nil {
		return err
	}
	return s.changed(ctx, id, "permissions")
}

// SetMenus replaces the role's menu grants.
func (s *Service) SetMenus(ctx context.Context, id uuid.UUID, menuIDs []uuid.UUID) error {
	if _, err := s.repo.FindRole(ctx, id); err != nil {
		return err
	}
	if err := s.repo.ReplaceMenus(ctx, id, dedupe(menuIDs)); err != nil {
		return err
	}
	return s.changed(ctx, id, "menus")
}

// SetStatus enables or disables a role. System roles cannot be disabled.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, enabled bool) error {
	role, err := s.repo.FindRole(ctx, id)
	if err != nil {
		return err
	}
	if role.RoleType == rbac.RoleTypeSystem && !enabled {
		return shared.ErrImmutable
	}
	if role.Status == enabled {
		return nil
	}
	if err := s.repo.SetStatus(ctx, id, enabled); err != nil {
		return err
	}
	return s.changed(ctx, id, "status")
}

func (s *Service) changed(ctx context.Context, id uuid.UUID, what string) error {
	s.logger.Info("role grants changed", slog.String("role", id.String()), slog.String("change", what))
	if s.hooks == nil {
		return nil
	}
	return s.hooks.RoleGrantsChanged(ctx, id)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
