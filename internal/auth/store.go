package auth

import "context"

// Store describes persistence required by the authorization subsystem.
// Tuple writes (AssignRole, GrantPermission) are idempotent upserts:
// re-asserting an existing tuple is a no-op, not an error.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, id string) (*User, error)
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByExternal(ctx context.Context, provider, externalID string) (*User, error)
	ListUsers(ctx context.Context) ([]UserSummary, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) error
	// DeleteUser cascades the user's role assignments.
	DeleteUser(ctx context.Context, id string) error
	SetMFA(ctx context.Context, userID string, enabled bool, secret string) error

	// RBAC vocabulary. Names are unique, open sets.
	CreateRole(ctx context.Context, role *Role) error
	ListRoles(ctx context.Context) ([]Role, error)
	FindRoleByName(ctx context.Context, name string) (*Role, error)
	CreateResource(ctx context.Context, res *Resource) error
	ListResources(ctx context.Context) ([]Resource, error)
	CreateOperation(ctx context.Context, op *Operation) error
	ListOperations(ctx context.Context) ([]Operation, error)

	// Grants and assignments.
	AssignRole(ctx context.Context, userID, roleID string) error
	GrantPermission(ctx context.Context, grant *RolePermission) error
	RemovePermission(ctx context.Context, id string) error
	PermissionsForRole(ctx context.Context, roleID string) ([]Grant, error)

	// Decision inputs.
	RolesForUser(ctx context.Context, userID string) ([]string, error)
	HasGrant(ctx context.Context, userID, resource, operation string) (bool, error)
	GrantsForUser(ctx context.Context, userID string) ([]Grant, error)
	// AllGrantPairs enumerates the full Resource x Operation cross product,
	// which is what an admin effectively holds.
	AllGrantPairs(ctx context.Context) ([]Grant, error)

	// BootstrapAdmin atomically assigns the admin role to userID iff no
	// user-role assignment exists anywhere yet. Returns whether it fired.
	BootstrapAdmin(ctx context.Context, userID string) (bool, error)
}
