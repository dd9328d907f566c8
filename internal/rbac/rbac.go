package rbac

type Role string
type Action string

const (
	RoleGuest  Role = "guest"
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleBanned Role = "banned"
)

const (
	ActionRead     Action = "read"
	ActionPost     Action = "post"
	ActionVote     Action = "vote"
	ActionModerate Action = "moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleUser:
		return action == ActionRead || action == ActionPost || action == ActionVote
	case RoleGuest:
		return action == ActionRead
	case RoleBanned:
		// Banned accounts keep read access but lose all write affordances.
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleGuest, RoleUser, RoleAdmin, RoleBanned:
		return Role(role)
	default:
		return RoleGuest
	}
}
