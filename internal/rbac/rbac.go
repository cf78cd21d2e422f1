package rbac

type Role string
type Action string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

// Can reports whether role may perform action on rows it owns.
// Managing other users and their rows is admin only.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// CanMutate gates updates and deletes: owners may change their rows,
// admins may change anyone's.
func CanMutate(role Role, actorID, ownerID int64) bool {
	if actorID == 0 {
		return false
	}
	if actorID == ownerID {
		return Can(role, ActionWrite)
	}
	return Can(role, ActionManage)
}

func For(admin bool) Role {
	if admin {
		return RoleAdmin
	}
	return RoleMember
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
