package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/platform/httpx"
	"github.com/warden-rbac/warden/internal/rbac"
	"github.com/warden-rbac/warden/internal/shared"
	"github.com/warden-rbac/warden/internal/users"
)

// Authorizer decides whether a principal may call method+path.
type Authorizer interface {
	Authorize(ctx context.Context, p rbac.Principal, method, path string) rbac.Decision
}

// SubjectLoader loads the subject named by a verified token.
type SubjectLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*users.Subject, error)
}

type tokenContextKey struct{}

// Middleware authenticates bearer tokens and enforces permissions.
type Middleware struct {
	codec      *TokenCodec
	subjects   SubjectLoader
	authorizer Authorizer
	logger     *slog.Logger
}

// NewMiddleware builds the middleware. authorizer may be nil to only
// authenticate.
func NewMiddleware(codec *TokenCodec, subjects SubjectLoader, authorizer Authorizer, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{codec: codec, subjects: subjects, authorizer: authorizer, logger: logger}
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

// Authenticate resolves the request's subject from its access token.
func (m *Middleware) Authenticate(r *http.Request) (*users.Subject, *Claims, error) {
	claims, err := m.codec.Verify(r.Context(), BearerToken(r), AccessToken)
	if err != nil {
		return nil, nil, err
	}
	id, err := claims.Subject()
	if err != nil {
		return nil, nil, err
	}
	subject, err := m.subjects.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil, ErrTokenRevoked
		}
		return nil, nil, fmt.Errorf("%w: load subject: %v", shared.ErrInfrastructure, err)
	}
	if err := subject.CheckUsable(); err != nil {
		return nil, nil, err
	}
	return subject, claims, nil
}

// Handler authenticates the request, then checks the permission for its
// method and path.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _, err := m.Authenticate(r)
		if err != nil {
			m.logger.Warn("authentication failed",
				slog.String("path", r.URL.Path),
				slog.Any("error", err))
			httpx.RespondError(w, r, err)
			return
		}
		ctx := rbac.ContextWithPrincipal(r.Context(), subject)
		ctx = context.WithValue(ctx, tokenContextKey{}, BearerToken(r))

		if m.authorizer != nil {
			decision := m.authorizer.Authorize(ctx, subject, r.Method, r.URL.Path)
			if !decision.Allowed {
				m.logger.Warn("permission denied",
					slog.String("subject", subject.ID.String()),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("reason", decision.Reason))
				httpx.RespondError(w, r, shared.ErrAuthorization)
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) *users.Subject {
	s, _ := rbac.PrincipalFromContext(ctx).(*users.Subject)
	return s
}

// TokenFromContext returns the raw access token of the request.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(tokenContextKey{}).(string)
	return t
}
