package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"uniplex.org/internal/auth"
)

const userColumns = `id, email, coalesce(password_hash,''), mfa_enabled, coalesce(mfa_secret,''), coalesce(external_provider,''), coalesce(external_id,''), created_at`

func scanUser(row interface{ Scan(...any) error }) (*auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.MFAEnabled, &u.MFASecret,
		&u.ExternalProvider, &u.ExternalID, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	_, err := s.db.ExecContext(ctx, `
		insert into users (id, email, password_hash, mfa_enabled, mfa_secret, external_provider, external_id, created_at)
		values ($1, $2, nullif($3,''), $4, nullif($5,''), nullif($6,''), nullif($7,''), $8)
	`, u.ID, u.Email, u.PasswordHash, u.MFAEnabled, u.MFASecret, u.ExternalProvider, u.ExternalID, u.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateIdentity
		}
		return err
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id = $1`, id)
	return scanUser(row)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email) = lower($1)`, email)
	return scanUser(row)
}

func (s *Store) FindUserByExternal(ctx context.Context, provider, externalID string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where external_provider = $1 and external_id = $2`,
		provider, externalID)
	return scanUser(row)
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.UserSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select u.id, u.email, u.mfa_enabled,
		       coalesce(string_agg(r.name, ',' order by r.name), '')
		from users u
		left join user_roles ur on ur.user_id = u.id
		left join roles r on r.id = ur.role_id
		group by u.id, u.email, u.mfa_enabled
		order by u.created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.UserSummary
	for rows.Next() {
		var (
			u     auth.UserSummary
			names string
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.MFAEnabled, &names); err != nil {
			return nil, err
		}
		if names != "" {
			u.Roles = strings.Split(names, ",")
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) error {
	var (
		setClauses []string
		args       []any
		idx        = 1
	)
	if upd.Email != nil {
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", idx))
		args = append(args, *upd.Email)
		idx++
	}
	if upd.Password != nil {
		setClauses = append(setClauses, fmt.Sprintf("password_hash = $%d", idx))
		args = append(args, *upd.Password)
		idx++
	}
	if len(setClauses) == 0 {
		return nil
	}
	query := fmt.Sprintf("update users set %s where id = $%d", strings.Join(setClauses, ", "), idx)
	args = append(args, id)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrDuplicateIdentity
		}
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

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
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
	return tx.Commit()
}

func (s *Store) SetMFA(ctx context.Context, userID string, enabled bool, secret string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set mfa_enabled = $2, mfa_secret = nullif($3,'') where id = $1`,
		userID, enabled, secret)
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
