package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"uniplex.org/internal/ids"
)

// MemStore is an in-memory Store. It backs tests and local development
// without a database; the semantics match the SQL implementation.
type MemStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	roles       map[string]*Role
	resources   map[string]*Resource
	operations  map[string]*Operation
	permissions map[string]*RolePermission
	userRoles   map[string]map[string]bool // userID -> roleID set
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		resources:   make(map[string]*Resource),
		operations:  make(map[string]*Operation),
		permissions: make(map[string]*RolePermission),
		userRoles:   make(map[string]map[string]bool),
	}
}

func (m *MemStore) CreateUser(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicateIdentity
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemStore) FindUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) FindUserByExternal(_ context.Context, provider, externalID string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ExternalProvider == provider && u.ExternalID == externalID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) ListUsers(_ context.Context) ([]UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]UserSummary, 0, len(m.users))
	for _, u := range m.users {
		summary := UserSummary{ID: u.ID, Email: u.Email, MFAEnabled: u.MFAEnabled}
		for roleID := range m.userRoles[u.ID] {
			if role, ok := m.roles[roleID]; ok {
				summary.Roles = append(summary.Roles, role.Name)
			}
		}
		sort.Strings(summary.Roles)
		result = append(result, summary)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, nil
}

func (m *MemStore) UpdateUser(_ context.Context, id string, upd UserUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Email != nil {
		for otherID, other := range m.users {
			if otherID != id && strings.EqualFold(other.Email, *upd.Email) {
				return ErrDuplicateIdentity
			}
		}
		u.Email = *upd.Email
	}
	if upd.Password != nil {
		u.PasswordHash = *upd.Password
	}
	return nil
}

func (m *MemStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrNotFound
	}
	delete(m.users, id)
	delete(m.userRoles, id)
	return nil
}

func (m *MemStore) SetMFA(_ context.Context, userID string, enabled bool, secret string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.MFAEnabled = enabled
	u.MFASecret = secret
	return nil
}

func (m *MemStore) CreateRole(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, role.Name) {
			return ErrConflict
		}
	}
	if role.ID == "" {
		role.ID = ids.New()
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = time.Now().UTC()
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *MemStore) ListRoles(_ context.Context) ([]Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if strings.EqualFold(r.Name, name) {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemStore) CreateResource(_ context.Context, res *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.resources {
		if strings.EqualFold(existing.Name, res.Name) {
			return ErrConflict
		}
	}
	if res.ID == "" {
		res.ID = ids.New()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	cp := *res
	m.resources[res.ID] = &cp
	return nil
}

func (m *MemStore) ListResources(_ context.Context) ([]Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Resource, 0, len(m.resources))
	for _, r := range m.resources {
		result = append(result, *r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemStore) CreateOperation(_ context.Context, op *Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.operations {
		if strings.EqualFold(existing.Name, op.Name) {
			return ErrConflict
		}
	}
	if op.ID == "" {
		op.ID = ids.New()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	cp := *op
	m.operations[op.ID] = &cp
	return nil
}

func (m *MemStore) ListOperations(_ context.Context) ([]Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Operation, 0, len(m.operations))
	for _, op := range m.operations {
		result = append(result, *op)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemStore) AssignRole(_ context.Context, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.roles[roleID]; !ok {
		return ErrNotFound
	}
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[string]bool)
	}
	m.userRoles[userID][roleID] = true
	return nil
}

func (m *MemStore) GrantPermission(_ context.Context, grant *RolePermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[grant.RoleID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.resources[grant.ResourceID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.operations[grant.OperationID]; !ok {
		return ErrNotFound
	}
	for _, p := range m.permissions {
		if p.RoleID == grant.RoleID && p.ResourceID == grant.ResourceID && p.OperationID == grant.OperationID {
			grant.ID = p.ID
			return nil
		}
	}
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	cp := *grant
	m.permissions[grant.ID] = &cp
	return nil
}

func (m *MemStore) RemovePermission(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.permissions[id]; !ok {
		return ErrNotFound
	}
	delete(m.permissions, id)
	return nil
}

func (m *MemStore) PermissionsForRole(_ context.Context, roleID string) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var grants []Grant
	for _, p := range m.permissions {
		if p.RoleID != roleID {
			continue
		}
		grants = append(grants, m.grantNames(p))
	}
	sortGrants(grants)
	return grants, nil
}

func (m *MemStore) RolesForUser(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for roleID := range m.userRoles[userID] {
		if role, ok := m.roles[roleID]; ok {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStore) HasGrant(_ context.Context, userID, resource, operation string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for roleID := range m.userRoles[userID] {
		for _, p := range m.permissions {
			if p.RoleID != roleID {
				continue
			}
			g := m.grantNames(p)
			if strings.EqualFold(g.Resource, resource) && strings.EqualFold(g.Operation, operation) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (m *MemStore) GrantsForUser(_ context.Context, userID string) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[Grant]bool)
	var grants []Grant
	for roleID := range m.userRoles[userID] {
		for _, p := range m.permissions {
			if p.RoleID != roleID {
				continue
			}
			g := m.grantNames(p)
			if !seen[g] {
				seen[g] = true
				grants = append(grants, g)
			}
		}
	}
	sortGrants(grants)
	return grants, nil
}

func (m *MemStore) AllGrantPairs(_ context.Context) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var grants []Grant
	for _, res := range m.resources {
		for _, op := range m.operations {
			grants = append(grants, Grant{Resource: res.Name, Operation: op.Name})
		}
	}
	sortGrants(grants)
	return grants, nil
}

func (m *MemStore) BootstrapAdmin(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.userRoles {
		if len(set) > 0 {
			return false, nil
		}
	}
	var adminID string
	for id, r := range m.roles {
		if strings.EqualFold(r.Name, AdminRole) {
			adminID = id
			break
		}
	}
	if adminID == "" {
		return false, nil
	}
	if m.userRoles[userID] == nil {
		m.userRoles[userID] = make(map[string]bool)
	}
	m.userRoles[userID][adminID] = true
	return true, nil
}

func (m *MemStore) grantNames(p *RolePermission) Grant {
	g := Grant{}
	if res, ok := m.resources[p.ResourceID]; ok {
		g.Resource = res.Name
	}
	if op, ok := m.operations[p.OperationID]; ok {
		g.Operation = op.Name
	}
	return g
}

func sortGrants(grants []Grant) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Resource != grants[j].Resource {
			return grants[i].Resource < grants[j].Resource
		}
		return grants[i].Operation < grants[j].Operation
	})
}
