package auth

import "time"

// User is a local-credential or external-identity account.
// ExternalProvider/ExternalID are set only for accounts created through an
// identity provider; such accounts may have no password hash at all.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	MFAEnabled       bool      `json:"isMfaEnabled"`
	MFASecret        string    `json:"-"`
	ExternalProvider string    `json:"externalProvider,omitempty"`
	ExternalID       string    `json:"-"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Role groups permission grants. The name is immutable after creation.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Resource names a protectable thing ("courses", "users", ...).
type Resource struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Operation names an action on a resource ("read", "update", ...).
type Operation struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RolePermission is the grant tuple Role x Resource x Operation, unique per
// tuple. It is the only writable authorization fact.
type RolePermission struct {
	ID          string `json:"id"`
	RoleID      string `json:"roleId"`
	ResourceID  string `json:"resourceId"`
	OperationID string `json:"operationId"`
}

// UserRole assigns a role to a user, unique per tuple. Effective permissions
// are the union over all of a user's roles.
type UserRole struct {
	UserID string `json:"userId"`
	RoleID string `json:"roleId"`
}

// Grant is a resolved (resource, operation) name pair.
type Grant struct {
	Resource  string `json:"resource"`
	Operation string `json:"operation"`
}

// UserUpdate carries optional profile mutations.
type UserUpdate struct {
	Email    *string
	Password *string
}

// UserSummary is the listing shape, roles resolved.
type UserSummary struct {
	ID         string   `json:"id"`
	Email      string   `json:"email"`
	MFAEnabled bool     `json:"isMfaEnabled"`
	Roles      []string `json:"roles"`
}
