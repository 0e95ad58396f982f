package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleRequester  = "requester"
	RoleProvider   = "provider"
	RoleSupport    = "support" // internal, manual-reconciliation tooling only
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// IsInternalRole reports whether the role may read transactions and bookings
// belonging to other accounts. super_admin is included so its bypass covers
// visibility checks as well as route guards.
func IsInternalRole(role string) bool { return role == RoleSupport || role == RoleSuperAdmin }
