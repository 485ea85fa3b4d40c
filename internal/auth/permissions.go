package auth

import "sort"

// Role is an administrator role as stored on the account.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// Permission names one coarse operation in the admin console.
type Permission string

// PermissionAll grants every operation.
const PermissionAll Permission = "*"

const (
	PermCasesRead     Permission = "cases.read"
	PermClientsRead   Permission = "clients.read"
	PermLeadsRead     Permission = "leads.read"
	PermDocumentsRead Permission = "documents.read"
)

// minimalPermissions is granted to every role without its own policy row.
var minimalPermissions = []Permission{
	PermCasesRead,
	PermClientsRead,
	PermLeadsRead,
	PermDocumentsRead,
}

// RolePolicy maps roles to their permission sets. New roles are added as rows.
type RolePolicy map[Role][]Permission

// DefaultPolicy is the built-in policy table.
var DefaultPolicy = RolePolicy{
	RoleSuperAdmin: {PermissionAll},
	RoleAdmin:      minimalPermissions,
}

// PermissionsFor resolves the permission set for role. Unknown roles fall
// back to the minimal read set.
func (p RolePolicy) PermissionsFor(role Role) PermissionSet {
	perms, ok := p[role]
	if !ok {
		perms = minimalPermissions
	}
	set := make(PermissionSet, len(perms))
	for _, perm := range perms {
		set[perm] = struct{}{}
	}
	return set
}

// PermissionSet is an unordered set of permissions.
type PermissionSet map[Permission]struct{}

// HasPermission reports whether set grants perm. The wildcard grants everything.
func HasPermission(set PermissionSet, perm Permission) bool {
	if _, ok := set[PermissionAll]; ok {
		return true
	}
	_, ok := set[perm]
	return ok
}

// List returns the permissions sorted for stable output.
func (s PermissionSet) List() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}
