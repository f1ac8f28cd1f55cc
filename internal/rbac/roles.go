package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
	RoleAuditor  = "auditor" // hidden role
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// Known reports whether role is one this service grants.
func Known(role string) bool {
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer, RoleAuditor:
		return true
	default:
		return false
	}
}
