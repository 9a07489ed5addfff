package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/warden-rbac/warden/internal/shared"
	"github.com/warden-rbac/warden/internal/users"
)

// SubjectStore is the part of the users service the auth flows need.
type SubjectStore interface {
	Get(ctx context.Context, id uuid.UUID) (*users.Subject, error)
	FindByIdentifier(ctx context.Context, identifier string) (*users.Subject, error)
	Lock(ctx context.Context, id uuid.UUID) error
	RecordLogin(ctx context.Context, id uuid.UUID, rec users.LoginRecord) error
}

// Invalidator drops cached permissions for a subject.
type Invalidator interface {
	SubjectRolesChanged(ctx context.Context, subjectID uuid.UUID) error
}

// LoginInput carries one sign-in attempt.
type LoginInput struct {
	Identifier string
	Password   string
	IP         string
	Type       string
}

// Service implements login, refresh and logout.
type Service struct {
	subjects    SubjectStore
	codec       *TokenCodec
	blacklist   *Blacklist
	throttle    *Throttle
	invalidator Invalidator
	logger      *slog.Logger
	now         func() time.Time
}

// NewService constructs a new Service. invalidator may be nil.
func NewService(subjects SubjectStore, codec *TokenCodec, blacklist *Blacklist, throttle *Throttle, invalidator Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subjects:    subjects,
		codec:       codec,
		blacklist:   blacklist,
		throttle:    throttle,
		invalidator: invalidator,
		logger:      logger,
		now:         time.Now,
	}
}

// Login validates credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, in LoginInput) (TokenPair, *users.Subject, error) {
	allowed, _, err := s.throttle.Check(ctx, in.Identifier, in.IP)
	if err != nil {
		s.logger.Error("login throttle unavailable", slog.Any("error", err))
	}
	if !allowed {
		s.logger.Warn("login throttled", slog.String("identifier", in.Identifier), slog.String("ip", in.IP))
		return TokenPair{}, nil, shared.ErrThrottled
	}

	subject, err := s.subjects.FindByIdentifier(ctx, in.Identifier)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.recordFailure(ctx, in)
			return TokenPair{}, nil, shared.ErrInvalidCredentials
		}
		return TokenPair{}, nil, fmt.Errorf("%w: find subject: %v", shared.ErrInfrastructure, err)
	}
	if err := subject.CheckUsable(); err != nil {
		s.recordFailure(ctx, in)
		s.logger.Warn("login rejected", slog.String("subject", subject.ID.String()), slog.Any("error", err))
		return TokenPair{}, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(subject.PasswordHash), []byte(in.Password)); err != nil {
		s.recordFailure(ctx, in)
		if lockErr := s.recordAccountFailure(ctx, subject); lockErr != nil {
			return TokenPair{}, nil, lockErr
		}
		return TokenPair{}, nil, shared.ErrInvalidCredentials
	}

	if err := s.throttle.RecordSuccess(ctx, in.Identifier); err != nil {
		s.logger.Error("reset login attempts", slog.Any("error", err))
	}
	if err := s.throttle.ResetAccount(ctx, subject.ID.String()); err != nil {
		s.logger.Error("reset account failures", slog.Any("error", err))
	}
	if err := s.subjects.RecordLogin(ctx, subject.ID, users.LoginRecord{At: s.now(), IP: in.IP, Type: in.Type}); err != nil {
		s.logger.Error("record login", slog.String("subject", subject.ID.String()), slog.Any("error", err))
	}

	pair, err := s.codec.Create(identityOf(subject))
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.logger.Info("login succeeded", slog.String("subject", subject.ID.String()), slog.String("ip", in.IP))
	return pair, subject, nil
}

func (s *Service) recordFailure(ctx context.Context, in LoginInput) {
	if err := s.throttle.RecordFailure(ctx, in.Identifier, in.IP); err != nil {
		s.logger.Error("record login failure", slog.Any("error", err))
	}
	s.logger.Warn("login failed", slog.String("identifier", in.Identifier), slog.String("ip", in.IP))
}

// recordAccountFailure locks the subject once the failure threshold is hit.
func (s *Service) recordAccountFailure(ctx context.Context, subject *users.Subject) error {
	reached, err := s.throttle.RecordAccountFailure(ctx, subject.ID.String())
	if err != nil {
		s.logger.Error("record account failure", slog.Any("error", err))
		return nil
	}
	if !reached {
		return nil
	}
	if err := s.subjects.Lock(ctx, subject.ID); err != nil {
		s.logger.Error("lock account", slog.String("subject", subject.ID.String()), slog.Any("error", err))
		return nil
	}
	return shared.ErrAccountLocked
}

// Refresh exchanges a refresh token for a new pair. The presented refresh
// token is claimed in the blacklist before the new pair is issued, so of
// several concurrent redemptions only one succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.codec.Verify(ctx, refreshToken, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	subjectID, err := claims.Subject()
	if err != nil {
		return TokenPair{}, err
	}
	revoked, err := s.blacklist.IsRevoked(ctx, refreshToken, subjectID, claims.IssuedAt.Time)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
	}
	if revoked {
		return TokenPair{}, ErrTokenRevoked
	}
	allowed, err := s.throttle.AllowRefresh(ctx, subjectID.String())
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
	}
	if !allowed {
		s.logger.Warn("refresh limited", slog.String("subject", subjectID.String()))
		return TokenPair{}, shared.ErrThrottled
	}

	subject, err := s.subjects.Get(ctx, subjectID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return TokenPair{}, ErrTokenRevoked
		}
		return TokenPair{}, fmt.Errorf("%w: load subject: %v", shared.ErrInfrastructure, err)
	}
	if err := subject.CheckUsable(); err != nil {
		return TokenPair{}, err
	}

	claimed, err := s.blacklist.Claim(ctx, refreshToken, subjectID, claims.ExpiresAt.Time)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
	}
	if !claimed {
		s.logger.Warn("refresh token replayed", slog.String("subject", subjectID.String()))
		return TokenPair{}, ErrTokenRevoked
	}
	return s.codec.Create(identityOf(subject))
}

// Logout revokes the presented access token and, when given, the refresh
// token of the same subject.
func (s *Service) Logout(ctx context.Context, subjectID uuid.UUID, accessToken, refreshToken string) error {
	expiry, err := s.codec.ExpiryOf(accessToken, AccessToken)
	if err != nil {
		return err
	}
	if err := s.blacklist.Add(ctx, accessToken, subjectID, expiry); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
	}
	if refreshToken == "" {
		return nil
	}
	claims, err := s.codec.Verify(ctx, refreshToken, RefreshToken)
	if err != nil {
		s.logger.Warn("logout ignored refresh token", slog.Any("error", err))
		return nil
	}
	if owner, err := claims.Subject(); err != nil || owner != subjectID {
		return nil
	}
	if err := s.blacklist.Add(ctx, refreshToken, subjectID, claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
	}
	return nil
}

// ForceLogout revokes every token of the subject and drops its cached
// permissions.
func (s *Service) ForceLogout(ctx context.Context, subjectID uuid.UUID) error {
	if _, err := s.subjects.Get(ctx, subjectID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: load subject: %v", shared.ErrInfrastructure, err)
	}
	if err := s.blacklist.RevokeAll(ctx, subjectID); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
	}
	if s.invalidator != nil {
		if err := s.invalidator.SubjectRolesChanged(ctx, subjectID); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrInfrastructure, err)
		}
	}
	s.logger.Info("subject force logged out", slog.String("subject", subjectID.String()))
	return nil
}

func identityOf(s *users.Subject) Identity {
	return Identity{ID: s.ID, Username: s.Username, Email: s.Email, Name: s.Name}
}
