package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"uniplex.org/internal/auth"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func expectDone(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.CreateUser(context.Background(), &auth.User{
		ID:        "u1",
		Email:     "alice@example.edu",
		CreatedAt: time.Now(),
	})
	if !errors.Is(err, auth.ErrDuplicateIdentity) {
		t.Fatalf("err = %v, want ErrDuplicateIdentity", err)
	}
	expectDone(t, mock)
}

func TestFindUserNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select (.+) from users where id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := store.FindUser(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectDone(t, mock)
}

func TestAssignRoleIsIdempotent(t *testing.T) {
	store, mock := newMock(t)

	// The conflict clause swallows re-assertion; zero rows affected is
	// still success.
	mock.ExpectExec("insert into user_roles").
		WithArgs("u1", "r1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.AssignRole(context.Background(), "u1", "r1"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	expectDone(t, mock)
}

func TestAssignRoleUnknownUser(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("insert into user_roles").
		WithArgs("ghost", "r1").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	if err := store.AssignRole(context.Background(), "ghost", "r1"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectDone(t, mock)
}

func TestGrantPermissionIdempotent(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("insert into role_permissions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	grant := &auth.RolePermission{RoleID: "r1", ResourceID: "res1", OperationID: "op1"}
	if err := store.GrantPermission(context.Background(), grant); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.ID == "" {
		t.Fatal("grant id not filled")
	}
	expectDone(t, mock)
}

func TestRemovePermissionNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec("delete from role_permissions").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.RemovePermission(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	expectDone(t, mock)
}

func TestHasGrant(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select exists").
		WithArgs("u1", "enrollments", "create").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := store.HasGrant(context.Background(), "u1", "enrollments", "create")
	if err != nil || !ok {
		t.Fatalf("HasGrant = (%v, %v), want (true, nil)", ok, err)
	}
	expectDone(t, mock)
}

func TestBootstrapAdminGrantsOnEmptyAssignments(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("select id from roles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("role-admin"))
	mock.ExpectExec("insert into user_roles").
		WithArgs("u1", "role-admin").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	fired, err := store.BootstrapAdmin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if !fired {
		t.Fatal("bootstrap did not fire on empty assignments")
	}
	expectDone(t, mock)
}

func TestBootstrapAdminSkipsWhenAssignmentsExist(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	fired, err := store.BootstrapAdmin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if fired {
		t.Fatal("bootstrap fired twice")
	}
	expectDone(t, mock)
}

func TestBootstrapAdminSkipsWithoutAdminRole(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select count").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery("select id from roles").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	fired, err := store.BootstrapAdmin(context.Background(), "u1")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if fired {
		t.Fatal("bootstrap fired without an admin role")
	}
	expectDone(t, mock)
}

func TestListUsersAggregatesRoles(t *testing.T) {
	store, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"id", "email", "mfa_enabled", "roles"}).
		AddRow("u1", "alice@example.edu", true, "admin,teacher").
		AddRow("u2", "bob@example.edu", false, "")
	mock.ExpectQuery("select u.id, u.email").WillReturnRows(rows)

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users", len(users))
	}
	if len(users[0].Roles) != 2 || users[0].Roles[0] != "admin" {
		t.Fatalf("roles = %v", users[0].Roles)
	}
	if users[1].Roles != nil {
		t.Fatalf("empty aggregate should stay nil, got %v", users[1].Roles)
	}
	expectDone(t, mock)
}

func TestUpdateUserBuildsDynamicSet(t *testing.T) {
	store, mock := newMock(t)

	email := "new@example.edu"
	mock.ExpectExec("update users set email").
		WithArgs(email, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.UpdateUser(context.Background(), "u1", auth.UserUpdate{Email: &email}); err != nil {
		t.Fatalf("update: %v", err)
	}

	// No fields set is a no-op without touching the database.
	if err := store.UpdateUser(context.Background(), "u1", auth.UserUpdate{}); err != nil {
		t.Fatalf("empty update: %v", err)
	}
	expectDone(t, mock)
}
