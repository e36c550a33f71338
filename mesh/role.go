package mesh

// Role is the device role of the local node in the mesh.
type Role uint8

const (
	RoleDisabled Role = iota
	RoleDetached
	RoleChild
	RoleRouter
	RoleLeader
)

// Attached reports whether the node can route traffic.
// Every role other than disabled and detached counts as attached.
func (r Role) Attached() bool {
	return r != RoleDisabled && r != RoleDetached
}

func (r Role) String() string {
	switch r {
	case RoleDisabled:
		return "disabled"
	case RoleDetached:
		return "detached"
	case RoleChild:
		return "child"
	case RoleRouter:
		return "router"
	case RoleLeader:
		return "leader"
	}
	return "unknown"
}
