package rbac

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Method is the ordinal stored on permission rows.
type Method int16

// Method ordinals. MethodAll matches every HTTP method.
const (
	MethodGet Method = iota
	MethodPost
	MethodPut
	MethodDelete
	MethodPatch
	MethodAll
)

var methodNames = map[string]Method{
	"GET":    MethodGet,
	"POST":   MethodPost,
	"PUT":    MethodPut,
	"DELETE": MethodDelete,
	"PATCH":  MethodPatch,
	"ALL":    MethodAll,
}

// ParseMethod maps a request method to its ordinal. HEAD, OPTIONS and friends are unsupported.
func ParseMethod(method string) (Method, bool) {
	m, ok := methodNames[strings.ToUpper(strings.TrimSpace(method))]
	if !ok || m == MethodAll {
		return 0, false
	}
	return m, true
}

func (m Method) String() string {
	for name, ord := range methodNames {
		if ord == m {
			return name
		}
	}
	return "UNKNOWN"
}

// RoleType distinguishes built-in roles from tenant-defined ones.
type RoleType int16

const (
	RoleTypeSystem RoleType = iota
	RoleTypeCustom
)

// PermissionType classifies a permission row.
type PermissionType int16

const (
	PermissionButton PermissionType = iota
	PermissionAPI
	PermissionData
	PermissionOther
)

// Role represents a high-level permission grouping.
type Role struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Code      string    `json:"code"`
	Status    bool      `json:"status"`
	RoleType  RoleType  `json:"role_type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission represents an API capability scoped to an HTTP method.
type Permission struct {
	ID       uuid.UUID
	MenuID   *uuid.UUID
	Name     string
	APIPath  string
	Method   Method
	Type     PermissionType
	IsActive bool
}

// Menu is a navigable node of the admin frontend.
type Menu struct {
	ID        uuid.UUID  `json:"id"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty"`
	Name      string     `json:"name"`
	Path      string     `json:"path"`
	Component string     `json:"component"`
	Sort      int        `json:"sort"`
	Hidden    bool       `json:"hidden"`
	Children  []*Menu    `json:"children,omitempty"`
}

// Principal describes the authenticated actor.
type Principal interface {
	GetID() uuid.UUID
	IsSuperUser() bool
}

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Decision reasons.
const (
	ReasonSuperuser   = "superuser"
	ReasonDemoMode    = "demo read-only"
	ReasonWhitelisted = "whitelisted"
	ReasonCached      = "cached"
	ReasonNoRoles     = "no roles"
	ReasonExact       = "exact match"
	ReasonTemplate    = "template match"
	ReasonNoMatch     = "no matching permission"
	ReasonBadMethod   = "unsupported method"
	ReasonError       = "resolver error"
)
