// Package rbac maps the caller role forwarded by the gateway to the
// extraction operations it may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleAnalyst Role = "analyst"
	RoleAdmin   Role = "admin"
)

const (
	// ActionRead covers extractions, views, search, stats and exports.
	ActionRead Action = "read"
	// ActionWrite stores extractions and ingests documents.
	ActionWrite Action = "write"
	// ActionCurate changes row status, including soft delete.
	ActionCurate Action = "curate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAnalyst:
		return action == ActionRead || action == ActionWrite
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps unknown or empty roles to the least privileged one.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAnalyst, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
