package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/platform/cache"
)

const defaultDecisionTTL = 5 * time.Minute

var (
	decisionAllowed = []byte("1")
	decisionDenied  = []byte("0")
)

// Observer receives every decision the resolver returns.
type Observer interface {
	ObserveDecision(reason string, allowed bool)
}

// ResolverConfig carries the resolver switches.
type ResolverConfig struct {
	DemoMode bool
	CacheTTL time.Duration
}

// Resolver decides whether a subject may call an API route.
type Resolver struct {
	store     Store
	versions  *Versions
	whitelist *Whitelist
	matcher   *PathMatcher
	cache     *cache.Aside
	logger    *slog.Logger
	cfg       ResolverConfig
	observer  Observer
}

// ResolverOption customises a Resolver.
type ResolverOption func(*Resolver)

// WithObserver reports decisions to o.
func WithObserver(o Observer) ResolverOption {
	return func(r *Resolver) { r.observer = o }
}

// WithMatcher replaces the default template matcher.
func WithMatcher(m *PathMatcher) ResolverOption {
	return func(r *Resolver) { r.matcher = m }
}

// NewResolver wires the resolver.
func NewResolver(store Store, versions *Versions, whitelist *Whitelist, aside *cache.Aside, logger *slog.Logger, cfg ResolverConfig, opts ...ResolverOption) *Resolver {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultDecisionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		store:     store,
		versions:  versions,
		whitelist: whitelist,
		cache:     aside,
		logger:    logger,
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.matcher == nil {
		r.matcher = NewPathMatcher(0, 0)
	}
	return r
}

// PermissionCacheKey builds the decision cache key.
func PermissionCacheKey(subjectID uuid.UUID, tag, normalizedPath, method string) string {
	return fmt.Sprintf("user_permission:%s:%s:%s:%s", subjectID, tag, normalizedPath, method)
}

// Authorize never returns an error: every failure is a denial.
func (r *Resolver) Authorize(ctx context.Context, p Principal, method, path string) Decision {
	d := r.authorize(ctx, p, strings.ToUpper(method), path)
	if r.observer != nil {
		r.observer.ObserveDecision(d.Reason, d.Allowed)
	}
	return d
}

func (r *Resolver) authorize(ctx context.Context, p Principal, method, path string) Decision {
	if p == nil {
		return Decision{Reason: ReasonError}
	}
	if p.IsSuperUser() {
		return Decision{Allowed: true, Reason: ReasonSuperuser}
	}
	if r.cfg.DemoMode && method != http.MethodGet {
		return Decision{Reason: ReasonDemoMode}
	}
	if r.whitelisted(ctx, path) {
		return Decision{Allowed: true, Reason: ReasonWhitelisted}
	}

	subjectID := p.GetID()
	normalized := NormalizePath(path)
	tag, err := r.versions.Tag(ctx, subjectID)
	if err != nil {
		r.logger.Error("permission version tag", slog.String("subject", subjectID.String()), slog.Any("error", err))
		return Decision{Reason: ReasonError}
	}
	key := PermissionCacheKey(subjectID, tag, normalized, method)

	reason := ReasonCached
	raw, err := r.cache.Fetch(ctx, key, r.cfg.CacheTTL, func(ctx context.Context) ([]byte, error) {
		allowed, why, err := r.evaluate(ctx, subjectID, method, normalized, path)
		if err != nil {
			return nil, err
		}
		reason = why
		if allowed {
			return decisionAllowed, nil
		}
		return decisionDenied, nil
	})
	if err != nil {
		r.logger.Error("permission check failed",
			slog.String("subject", subjectID.String()),
			slog.String("method", method),
			slog.String("path", normalized),
			slog.Any("error", err))
		return Decision{Reason: ReasonError}
	}
	if reason == ReasonCached {
		r.logger.Debug("permission cache hit", slog.String("key", key))
	}
	return Decision{Allowed: string(raw) == string(decisionAllowed), Reason: reason}
}

func (r *Resolver) whitelisted(ctx context.Context, path string) bool {
	if r.whitelist == nil {
		return false
	}
	patterns, err := r.whitelist.Patterns(ctx)
	if err != nil {
		r.logger.Warn("dynamic whitelist unavailable", slog.Any("error", err))
	}
	return MatchWhitelist(path, patterns)
}

func (r *Resolver) evaluate(ctx context.Context, subjectID uuid.UUID, method, normalized, rawPath string) (bool, string, error) {
	ord, ok := ParseMethod(method)
	if !ok {
		r.logger.Warn("unsupported method", slog.String("method", method))
		return false, ReasonBadMethod, nil
	}
	roleIDs, err := r.store.EnabledRoleIDs(ctx, subjectID)
	if err != nil {
		return false, "", err
	}
	if len(roleIDs) == 0 {
		return false, ReasonNoRoles, nil
	}

	exact, err := r.store.HasExactPermission(ctx, roleIDs, normalized, ord)
	if err != nil {
		return false, "", err
	}
	if exact {
		return true, ReasonExact, nil
	}

	templates, err := r.store.TemplatedPermissions(ctx, roleIDs, ord)
	if err != nil {
		return false, "", err
	}
	for _, tpl := range templates {
		matched, err := r.matcher.MatchTemplate(tpl, rawPath)
		if err != nil {
			r.logger.Warn("skip invalid permission template", slog.String("template", tpl), slog.Any("error", err))
			continue
		}
		if matched {
			r.logger.Debug("template permission matched", slog.String("template", tpl), slog.String("path", rawPath))
			return true, ReasonTemplate, nil
		}
	}
	return false, ReasonNoMatch, nil
}
