package users

import (
	"time"

	"github.com/google/uuid"

	"github.com/warden-rbac/warden/internal/shared"
)

// Status is the account state stored in users.user_status.
type Status int16

const (
	StatusDisabled Status = iota
	StatusActive
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusDisabled:
		return "disabled"
	case StatusActive:
		return "active"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Subject is an account that can authenticate.
type Subject struct {
	ID            uuid.UUID  `json:"id"`
	Username      string     `json:"username"`
	Email         string     `json:"email"`
	Mobile        string     `json:"mobile,omitempty"`
	Name          string     `json:"name"`
	Status        Status     `json:"status"`
	IsActive      bool       `json:"is_active"`
	IsSuperuser   bool       `json:"is_superuser"`
	PasswordHash  string     `json:"-"`
	LastLogin     *time.Time `json:"last_login,omitempty"`
	LastLoginIP   string     `json:"last_login_ip,omitempty"`
	LastLoginType string     `json:"last_login_type,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// GetID implements rbac.Principal.
func (s *Subject) GetID() uuid.UUID { return s.ID }

// IsSuperUser implements rbac.Principal.
func (s *Subject) IsSuperUser() bool { return s.IsSuperuser }

// CheckUsable returns the error explaining why the subject may not sign in or call APIs.
func (s *Subject) CheckUsable() error {
	switch {
	case s.Status == StatusLocked:
		return shared.ErrAccountLocked
	case s.Status == StatusDisabled || !s.IsActive:
		return shared.ErrAccountDisabled
	default:
		return nil
	}
}

// LoginRecord captures the metadata written after a successful sign-in.
type LoginRecord struct {
	At   time.Time
	IP   string
	Type string
}
