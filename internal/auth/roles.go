package auth

// Role represents a caller role.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	// RoleDevice is held by flight devices. It is outside the operator rank
	// ladder and only satisfies device routes of its own flight.
	RoleDevice Role = "device"
)

// NormalizeRole validates and normalizes a role string. The legacy "user"
// role maps to operator.
func NormalizeRole(value string) (Role, bool) {
	switch Role(value) {
	case RoleViewer, RoleOperator, RoleAdmin, RoleDevice:
		return Role(value), true
	case "user":
		return RoleOperator, true
	default:
		return "", false
	}
}

// RoleAtLeast returns true when role satisfies required role.
func RoleAtLeast(role Role, required Role) bool {
	if required == RoleDevice {
		return role == RoleDevice
	}
	return roleRank(role) >= roleRank(required)
}

func roleRank(role Role) int {
	switch role {
	case RoleViewer:
		return 1
	case RoleOperator:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}
