package rbac

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	defaultTemplateMemoSize = 512
	defaultTemplateMemoTTL  = time.Hour
)

var (
	uuidPattern        = regexp.MustCompile(`[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}`)
	templateVarPattern = regexp.MustCompile(`\\\{[^}]+\\\}`)
)

// NormalizePath replaces every canonical UUID in path with ":id".
func NormalizePath(path string) string {
	return uuidPattern.ReplaceAllString(path, ":id")
}

// IsTemplate reports whether a stored permission path carries {name} segments.
func IsTemplate(pattern string) bool {
	return strings.Contains(pattern, "{")
}

// CompileTemplate turns a permission path such as /api/core/db/{db_index}/table
// into an anchored expression where every {name} matches exactly one segment.
func CompileTemplate(pattern string) (*regexp.Regexp, error) {
	expr := templateVarPattern.ReplaceAllString(regexp.QuoteMeta(pattern), `[^/]+`)
	re, err := regexp.Compile("^" + expr + "$")
	if err != nil {
		return nil, fmt.Errorf("rbac: compile template %q: %w", pattern, err)
	}
	return re, nil
}

// MatchTemplate matches rawPath against a templated permission path.
func MatchTemplate(pattern, rawPath string) (bool, error) {
	re, err := CompileTemplate(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(rawPath), nil
}

// PathMatcher memoizes compiled templates in a bounded LRU.
type PathMatcher struct {
	compiled *lru.LRU[string, *regexp.Regexp]
}

// NewPathMatcher builds a matcher holding at most size compiled templates.
func NewPathMatcher(size int, ttl time.Duration) *PathMatcher {
	if size <= 0 {
		size = defaultTemplateMemoSize
	}
	if ttl <= 0 {
		ttl = defaultTemplateMemoTTL
	}
	return &PathMatcher{compiled: lru.NewLRU[string, *regexp.Regexp](size, nil, ttl)}
}

// MatchTemplate is the memoized variant of the package level MatchTemplate.
func (m *PathMatcher) MatchTemplate(pattern, rawPath string) (bool, error) {
	if m == nil {
		return MatchTemplate(pattern, rawPath)
	}
	re, ok := m.compiled.Get(pattern)
	if !ok {
		var err error
		re, err = CompileTemplate(pattern)
		if err != nil {
			return false, err
		}
		m.compiled.Add(pattern, re)
	}
	return re.MatchString(rawPath), nil
}

// Len reports how many compiled templates are held.
func (m *PathMatcher) Len() int {
	return m.compiled.Len()
}

// MatchWhitelist reports whether path matches any whitelist entry.
//
//	/exact          path equals the entry
//	/prefix/*       path starts with /prefix/ ("*" alone matches everything)
//	*/segment       /segment ends the path, or opens it and more segments follow
//	/a/*/b          exactly one non-empty segment between /a/ and /b
//
// Any other "*" placement never matches.
func MatchWhitelist(path string, patterns []string) bool {
	for _, p := range patterns {
		if matchWhitelistEntry(path, p) {
			return true
		}
	}
	return false
}

func matchWhitelistEntry(path, pattern string) bool {
	if strings.Count(pattern, "*") > 1 {
		return false
	}
	switch {
	case !strings.Contains(pattern, "*"):
		return path == pattern
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(path, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*"):
		suffix := strings.TrimPrefix(pattern, "*")
		return strings.HasSuffix(path, suffix) || strings.HasPrefix(path, suffix+"/")
	default:
		prefix, suffix, _ := strings.Cut(pattern, "*")
		if len(path) <= len(prefix)+len(suffix) ||
			!strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
			return false
		}
		return !strings.Contains(path[len(prefix):len(path)-len(suffix)], "/")
	}
}
