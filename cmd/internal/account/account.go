// Package account owns lab users and their cookie sessions.
//
// Users are password-backed rows; sessions are opaque random tokens handed
// out as a cookie, with only a digest stored server-side. The package also
// answers "who is this request" for both the REST surface and the user
// websocket gateway.
package account

import (
	"errors"
	"strings"
	"time"
)

// Roles. Admins see the board pool and manage other users.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// CookieName is the session cookie handed to browsers.
const CookieName = "fpgalab_session"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// ErrBadCredentials is deliberately indistinguishable between unknown
	// user, passwordless user, and wrong password.
	ErrBadCredentials = errors.New("bad credentials")
)

// User is a lab account row. PasswordHash is nil for accounts imported from
// a roster that never set a password; those cannot log in until an admin
// sets one.
type User struct {
	ID           int64
	UserName     string
	PasswordHash *string
	RealName     *string
	Class        *string
	StudentID    *string
	Role         string
	LastLogin    *time.Time
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// NewUser carries the fields settable at creation time.
type NewUser struct {
	UserName     string
	PasswordHash *string
	RealName     *string
	Class        *string
	StudentID    *string
	Role         string
}

// Session is a stored login. TokenHash is the digest of the cookie value;
// the raw token never touches the database.
type Session struct {
	TokenHash string
	UserName  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// NormalizeUserName canonicalizes a login name for lookups.
func NormalizeUserName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
