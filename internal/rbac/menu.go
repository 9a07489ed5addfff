package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/platform/cache"
)

const (
	menuCachePrefix = "cache:menu:"
	menuTreeKey     = menuCachePrefix + "tree"
	menuRoutePrefix = menuCachePrefix + "route:"
	defaultMenuTTL  = 30 * time.Minute
)

// Menus serves menu trees, per subject and global, from the cache.
type Menus struct {
	store    MenuStore
	roles    Store
	versions *Versions
	cache    *cache.Aside
	ttl      time.Duration
	logger   *slog.Logger
}

// NewMenus constructs the menu service.
func NewMenus(store MenuStore, roles Store, versions *Versions, aside *cache.Aside, ttl time.Duration, logger *slog.Logger) *Menus {
	if ttl <= 0 {
		ttl = defaultMenuTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Menus{store: store, roles: roles, versions: versions, cache: aside, ttl: ttl, logger: logger}
}

// MenuRouteKey is keyed by version tag so role changes never serve a stale tree.
func MenuRouteKey(subjectID uuid.UUID, tag string) string {
	return fmt.Sprintf("%s%s:%s", menuRoutePrefix, subjectID, tag)
}

// UserRoutes returns the menu tree visible to p.
func (m *Menus) UserRoutes(ctx context.Context, p Principal) ([]*Menu, error) {
	tag, err := m.versions.Tag(ctx, p.GetID())
	if err != nil {
		return nil, err
	}
	var tree []*Menu
	err = m.cache.FetchJSON(ctx, MenuRouteKey(p.GetID(), tag), m.ttl, &tree, func(ctx context.Context) (any, error) {
		if p.IsSuperUser() {
			menus, err := m.store.AllMenus(ctx)
			if err != nil {
				return nil, err
			}
			return BuildTree(menus), nil
		}
		roleIDs, err := m.roles.EnabledRoleIDs(ctx, p.GetID())
		if err != nil {
			return nil, err
		}
		if len(roleIDs) == 0 {
			return []*Menu{}, nil
		}
		menus, err := m.store.MenusForRoles(ctx, roleIDs)
		if err != nil {
			return nil, err
		}
		return BuildTree(menus), nil
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: user menus: %w", err)
	}
	return tree, nil
}

// Tree returns the complete menu tree.
func (m *Menus) Tree(ctx context.Context) ([]*Menu, error) {
	var tree []*Menu
	err := m.cache.FetchJSON(ctx, menuTreeKey, m.ttl, &tree, func(ctx context.Context) (any, error) {
		menus, err := m.store.AllMenus(ctx)
		if err != nil {
			return nil, err
		}
		return BuildTree(menus), nil
	})
	if err != nil {
		return nil, fmt.Errorf("rbac: menu tree: %w", err)
	}
	return tree, nil
}

// Invalidate drops every menu cache entry.
func (m *Menus) Invalidate(ctx context.Context) error {
	removed, err := m.cache.DeletePrefix(ctx, menuCachePrefix)
	if err != nil {
		return err
	}
	m.logger.Info("menu cache invalidated", slog.Int("keys", removed))
	return nil
}

// Warm rebuilds the global menu tree and reports how many root nodes it holds.
func (m *Menus) Warm(ctx context.Context) (int, error) {
	if err := m.cache.Delete(ctx, menuTreeKey); err != nil {
		return 0, err
	}
	tree, err := m.Tree(ctx)
	if err != nil {
		return 0, err
	}
	return len(tree), nil
}

// BuildTree links flat menu rows into a forest ordered by sort then name.
// Rows whose parent is absent become roots.
func BuildTree(menus []Menu) []*Menu {
	nodes := make(map[uuid.UUID]*Menu, len(menus))
	for i := range menus {
		node := menus[i]
		node.Children = nil
		nodes[node.ID] = &node
	}
	var roots []*Menu
	for i := range menus {
		node := nodes[menus[i].ID]
		if node.ParentID != nil {
			if parent, ok := nodes[*node.ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	sortMenus(roots)
	if roots == nil {
		roots = []*Menu{}
	}
	return roots
}

func sortMenus(menus []*Menu) {
	sort.SliceStable(menus, func(i, j int) bool {
		if menus[i].Sort != menus[j].Sort {
			return menus[i].Sort < menus[j].Sort
		}
		return menus[i].Name < menus[j].Name
	})
	for _, m := range menus {
		sortMenus(m.Children)
	}
}
