package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Service exposes the invalidation hooks called after role graph mutations.
type Service struct {
	versions *Versions
	menus    *Menus
	logger   *slog.Logger
}

// NewService constructs a Service. menus may be nil.
func NewService(versions *Versions, menus *Menus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{versions: versions, menus: menus, logger: logger}
}

// SubjectRolesChanged invalidates everything cached for one subject.
func (s *Service) SubjectRolesChanged(ctx context.Context, subjectID uuid.UUID) error {
	ver, err := s.versions.BumpSubject(ctx, subjectID)
	if err != nil {
		return err
	}
	s.logger.Info("subject permission version bumped",
		slog.String("subject", subjectID.String()),
		slog.Int64("version", ver))
	return nil
}

// RoleGrantsChanged invalidates every subject after a role's permissions,
// menus or status change.
func (s *Service) RoleGrantsChanged(ctx context.Context, roleID uuid.UUID) error {
	ver, err := s.versions.BumpGlobal(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("global permission version bumped",
		slog.String("role", roleID.String()),
		slog.Int64("version", ver))
	if s.menus != nil {
		if err := s.menus.Invalidate(ctx); err != nil {
			return fmt.Errorf("rbac: invalidate menus: %w", err)
		}
	}
	return nil
}
