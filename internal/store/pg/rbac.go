package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"uniplex.org/internal/auth"
	"uniplex.org/internal/ids"
)

func (s *Store) CreateRole(ctx context.Context, role *auth.Role) error {
	if role.ID == "" {
		role.ID = ids.New()
	}
	return s.insertNamed(ctx, `insert into roles (id, name, description) values ($1, $2, $3)`,
		role.ID, role.Name, role.Description, &role.CreatedAt)
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, coalesce(description,''), created_at from roles order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var r auth.Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

func (s *Store) FindRoleByName(ctx context.Context, name string) (*auth.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, coalesce(description,''), created_at from roles where lower(name) = lower($1)`, name)
	var r auth.Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateResource(ctx context.Context, res *auth.Resource) error {
	if res.ID == "" {
		res.ID = ids.New()
	}
	return s.insertNamed(ctx, `insert into resources (id, name, description) values ($1, $2, $3)`,
		res.ID, res.Name, res.Description, &res.CreatedAt)
}

func (s *Store) ListResources(ctx context.Context) ([]auth.Resource, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, coalesce(description,''), created_at from resources order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Resource
	for rows.Next() {
		var r auth.Resource
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) CreateOperation(ctx context.Context, op *auth.Operation) error {
	if op.ID == "" {
		op.ID = ids.New()
	}
	return s.insertNamed(ctx, `insert into operations (id, name, description) values ($1, $2, $3)`,
		op.ID, op.Name, op.Description, &op.CreatedAt)
}

func (s *Store) ListOperations(ctx context.Context) ([]auth.Operation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, coalesce(description,''), created_at from operations order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Operation
	for rows.Next() {
		var op auth.Operation
		if err := rows.Scan(&op.ID, &op.Name, &op.Description, &op.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, op)
	}
	return result, rows.Err()
}

// AssignRole is an idempotent upsert; re-asserting an assignment is a no-op.
func (s *Store) AssignRole(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id) values ($1, $2)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

// GrantPermission is an idempotent upsert over the grant tuple.
func (s *Store) GrantPermission(ctx context.Context, grant *auth.RolePermission) error {
	if grant.ID == "" {
		grant.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (id, role_id, resource_id, operation_id) values ($1, $2, $3, $4)
		on conflict (role_id, resource_id, operation_id) do nothing
	`, grant.ID, grant.RoleID, grant.ResourceID, grant.OperationID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return auth.ErrNotFound
		}
		return err
	}
	return nil
}

func (s *Store) RemovePermission(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from role_permissions where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select res.name, op.name
		from role_permissions rp
		join resources res on res.id = rp.resource_id
		join operations op on op.id = rp.operation_id
		where rp.role_id = $1
		order by res.name, op.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) RolesForUser(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		roles = append(roles, name)
	}
	return roles, rows.Err()
}

// HasGrant answers the decision query: does any of the user's roles hold a
// grant whose resource and operation names match case-insensitively.
func (s *Store) HasGrant(ctx context.Context, userID, resource, operation string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		select exists (
			select 1
			from user_roles ur
			join role_permissions rp on rp.role_id = ur.role_id
			join resources res on res.id = rp.resource_id
			join operations op on op.id = rp.operation_id
			where ur.user_id = $1
			  and lower(res.name) = lower($2)
			  and lower(op.name) = lower($3)
		)
	`, userID, resource, operation).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) GrantsForUser(ctx context.Context, userID string) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct res.name, op.name
		from user_roles ur
		join role_permissions rp on rp.role_id = ur.role_id
		join resources res on res.id = rp.resource_id
		join operations op on op.id = rp.operation_id
		where ur.user_id = $1
		order by res.name, op.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

func (s *Store) AllGrantPairs(ctx context.Context) ([]auth.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select res.name, op.name
		from resources res
		cross join operations op
		order by res.name, op.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanGrants(rows)
}

// BootstrapAdmin grants the admin role to userID iff no user-role assignment
// exists anywhere yet. The emptiness check and the insert run in one
// serializable transaction so concurrent first logins cannot both win.
func (s *Store) BootstrapAdmin(ctx context.Context, userID string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `select count(*) from user_roles`).Scan(&count); err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}

	var roleID string
	err = tx.QueryRowContext(ctx, `select id from roles where lower(name) = 'admin'`).Scan(&roleID)
	if errors.Is(err, sql.ErrNoRows) {
		// No admin role seeded; nothing to grant.
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := tx.ExecContext(ctx, `
		insert into user_roles (user_id, role_id) values ($1, $2)
		on conflict (user_id, role_id) do nothing
	`, userID, roleID); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

type grantRows interface {
	Next() bool
	Scan(...any) error
	Err() error
}

func scanGrants(rows grantRows) ([]auth.Grant, error) {
	var grants []auth.Grant
	for rows.Next() {
		var g auth.Grant
		if err := rows.Scan(&g.Resource, &g.Operation); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// insertNamed inserts a vocabulary row, mapping name collisions to
// auth.ErrConflict and filling in the returned creation time.
func (s *Store) insertNamed(ctx context.Context, query, id, name, description string, createdAt *time.Time) error {
	row := s.db.QueryRowContext(ctx, query+` returning created_at`, id, name, description)
	if err := row.Scan(createdAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}
