package auth

import "time"

// Admin is a durable administrator account.
type Admin struct {
	ID                int64
	Email             string
	Name              string
	Role              Role
	PasswordHash      string
	PasswordRotatedAt *time.Time
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Profile is the public view of an account returned to clients.
type Profile struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  Role   `json:"role"`
}

// Profile returns the fields safe to expose over the boundary.
func (a Admin) Profile() Profile {
	return Profile{ID: a.ID, Email: a.Email, Name: a.Name, Role: a.Role}
}

// Session is one administrator login. The plaintext token is never stored;
// Key is the hex SHA-256 of it.
type Session struct {
	Key        string
	AdminID    int64
	IssuedAt   time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
	RememberMe bool
	Origin     string
}

// Live reports whether the session is unrevoked and unexpired at now.
func (s Session) Live(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// LoginResult is returned by a successful login. Token is only ever
// available here.
type LoginResult struct {
	Token       string
	Session     Session
	Admin       Admin
	Permissions PermissionSet
}
