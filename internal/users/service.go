package users

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Subject, error)
	FindByIdentifier(ctx context.Context, identifier string) (*Subject, error)
	SetStatus(ctx context.Context, id uuid.UUID, status Status) error
	RecordLogin(ctx context.Context, id uuid.UUID, rec LoginRecord) error
	ReplaceRoles(ctx context.Context, id uuid.UUID, roleIDs []uuid.UUID) error
}

// InvalidationHooks is notified after a subject's role set changes.
type InvalidationHooks interface {
	SubjectRolesChanged(ctx context.Context, subjectID uuid.UUID) error
}

// Service handles user business logic.
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

// Get returns one subject.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Subject, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByIdentifier resolves a login identifier (username or mobile).
func (s *Service) FindByIdentifier(ctx context.Context, identifier string) (*Subject, error) {
	return s.repo.FindByIdentifier(ctx, identifier)
}

// Lock marks the subject locked after repeated password failures.
func (s *Service) Lock(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.SetStatus(ctx, id, StatusLocked); err != nil {
		return err
	}
	s.logger.Warn("account locked", slog.String("subject", id.String()))
	return nil
}

// RecordLogin stores the last sign-in metadata.
func (s *Service) RecordLogin(ctx context.Context, id uuid.UUID, rec LoginRecord) error {
	return s.repo.RecordLogin(ctx, id, rec)
}

// AssignRoles replaces the subject's roles and invalidates its cached permissions.
func (s *Service) AssignRoles(ctx context.Context, id uuid.UUID, roleIDs []uuid.UUID) error {
	if _, err := s.repo.FindByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.ReplaceRoles(ctx, id, dedupe(roleIDs)); err != nil {
		return err
	}
	if s.hooks != nil {
		return s.hooks.SubjectRolesChanged(ctx, id)
	}
	return nil
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
