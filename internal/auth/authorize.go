package auth

// SessionContext is the resolved identity behind a live session.
type SessionContext struct {
	Admin       Admin
	Session     Session
	Permissions PermissionSet
}

// HasPermission reports whether the session may perform perm.
func (c SessionContext) HasPermission(perm Permission) bool {
	return HasPermission(c.Permissions, perm)
}
