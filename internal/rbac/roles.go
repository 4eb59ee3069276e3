package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleOwner      = "owner"
	RoleSupervisor = "supervisor"
	RoleAgent      = "agent"
	RoleAnalyst    = "analyst"
	RoleSuperAdmin = "super_admin"
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

// CanManageAgents reports whether role may change other agents' availability.
func CanManageAgents(role string) bool {
	switch role {
	case RoleOwner, RoleSupervisor, RoleSuperAdmin:
		return true
	}
	return false
}
