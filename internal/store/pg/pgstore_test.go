package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/session"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		db.Close()
	})
	return New(db), mock
}

var userCols = []string{
	"id", "email", "name", "password_hash", "level", "department", "region",
	"last_login_at", "created_at", "updated_at", "role_id", "role_name",
}

func TestFindByEmailLoadsRolePermissions(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery("select.*from users u.*left join roles r.*where u.email = \\$1").
		WithArgs("ada@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u1", "ada@example.com", "Ada", "hash", int64(4), "eng", nil,
			nil, created, created, "r1", "MANAGER"))
	mock.ExpectQuery("select p.id, p.name.*from role_permissions rp").
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
			AddRow("p1", "audit.read").
			AddRow("p2", "users.read"))

	u, err := s.FindByEmail(context.Background(), "  Ada@Example.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if u.ID != "u1" || u.RoleName() != "MANAGER" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if u.Level == nil || *u.Level != 4 || u.Department == nil || *u.Department != "eng" {
		t.Fatalf("attributes not mapped: %+v", u)
	}
	if u.Region != nil || u.LastLoginAt != nil {
		t.Fatalf("expected null columns to stay nil: %+v", u)
	}
	if !u.Role.Grants("users.read") || len(u.Role.Permissions) != 2 {
		t.Fatalf("permissions not loaded: %+v", u.Role.Permissions)
	}
}

func TestFindByIDWithoutRole(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select.*from users u.*where u.id = \\$1").
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"u2", "bob@example.com", "Bob", "hash", nil, nil, "eu",
			now, now, now, nil, nil))

	u, err := s.FindByID(context.Background(), "u2")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if u.Role != nil {
		t.Fatalf("expected no role, got %+v", u.Role)
	}
	if u.Region == nil || *u.Region != "eu" || u.LastLoginAt == nil {
		t.Fatalf("unexpected attributes: %+v", u)
	}
}

func TestFindByIDNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select.*from users u").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := s.FindByID(context.Background(), "missing"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetRole(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("update users set role_id = \\$2").
		WithArgs("u1", "r2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.SetRole(context.Background(), "u1", &auth.Role{ID: "r2", Name: "EDITOR"}); err != nil {
		t.Fatalf("SetRole: %v", err)
	}

	mock.ExpectExec("update users set role_id = \\$2").
		WithArgs("ghost", "r2").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.SetRole(context.Background(), "ghost", &auth.Role{ID: "r2"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}

	mock.ExpectExec("update users set role_id = \\$2").
		WithArgs("u1", "nope").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})
	if err := s.SetRole(context.Background(), "u1", &auth.Role{ID: "nope"}); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing role, got %v", err)
	}
}

func TestUpdateLastLogin(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("update users set last_login_at = \\$2").
		WithArgs("u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdateLastLogin(context.Background(), "u1", at); err != nil {
		t.Fatalf("UpdateLastLogin: %v", err)
	}
}

func TestCreateUserConflict(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("insert into users").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.CreateUser(context.Background(), &auth.User{Email: "Root@Example.com", Name: "root", PasswordHash: "h"})
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestCreateUserFillsID(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery("insert into users").
		WithArgs(sqlmock.AnyArg(), "root@example.com", "root", "h", nil, nil, nil, "r1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	u := &auth.User{Email: "Root@Example.com", Name: "root", PasswordHash: "h", Role: &auth.Role{ID: "r1"}}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == "" || u.Email != "root@example.com" || !u.CreatedAt.Equal(now) {
		t.Fatalf("unexpected user after insert: %+v", u)
	}
}

func TestListRolesGroupsPermissions(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select r.id, r.name, p.id, p.name.*from roles r").
		WillReturnRows(sqlmock.NewRows([]string{"r_id", "r_name", "p_id", "p_name"}).
			AddRow("r1", "ADMIN", "p0", "*").
			AddRow("r2", "EDITOR", "p1", "users.read").
			AddRow("r2", "EDITOR", "p2", "users.write").
			AddRow("r3", "GUEST", nil, nil))

	roles, err := s.ListRoles(context.Background())
	if err != nil {
		t.Fatalf("ListRoles: %v", err)
	}
	if len(roles) != 3 {
		t.Fatalf("expected 3 roles, got %d", len(roles))
	}
	if len(roles[1].Permissions) != 2 || len(roles[2].Permissions) != 0 {
		t.Fatalf("permissions grouped wrong: %+v", roles)
	}
}

func TestFindRoleByName(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("select id, name from roles where name = \\$1").
		WithArgs("USER").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("r9", "USER"))
	mock.ExpectQuery("from role_permissions rp").
		WithArgs("r9").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("p1", "users.read"))

	r, err := s.FindRoleByName(context.Background(), "USER")
	if err != nil {
		t.Fatalf("FindRoleByName: %v", err)
	}
	if r.ID != "r9" || !r.Grants("users.read") {
		t.Fatalf("unexpected role: %+v", r)
	}

	mock.ExpectQuery("select id, name from roles").WithArgs("NOPE").WillReturnError(sql.ErrNoRows)
	if _, err := s.FindRoleByName(context.Background(), "NOPE"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNilDB(t *testing.T) {
	s := &Store{}
	if _, err := s.FindByID(context.Background(), "u1"); !errors.Is(err, errNoDB) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
	if _, err := s.Sessions().DeleteExpired(context.Background(), time.Now()); !errors.Is(err, errNoDB) {
		t.Fatalf("expected errNoDB, got %v", err)
	}
}

var sessionCols = []string{
	"id", "user_id", "refresh_token", "expires_at", "created_at", "last_activity_at", "ip_address", "user_agent",
}

func TestSessionStoreRoundTrip(t *testing.T) {
	s, mock := newMock(t)
	store := s.Sessions()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sess := session.Session{
		ID:             "s1",
		UserID:         "u1",
		RefreshToken:   "tok",
		ExpiresAt:      now.Add(time.Hour),
		CreatedAt:      now,
		LastActivityAt: now,
		IPAddress:      "10.0.0.1",
	}

	mock.ExpectExec("insert into sessions").
		WithArgs("s1", "u1", "tok", sess.ExpiresAt, now, now, "10.0.0.1", nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.Create(context.Background(), sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	mock.ExpectQuery("select id, user_id.*from sessions where refresh_token = \\$1").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s1", "u1", "tok", sess.ExpiresAt, now, now, "10.0.0.1", nil))
	got, err := store.FindByToken(context.Background(), "tok")
	if err != nil {
		t.Fatalf("FindByToken: %v", err)
	}
	if got.ID != "s1" || got.IPAddress != "10.0.0.1" || got.UserAgent != "" {
		t.Fatalf("unexpected session: %+v", got)
	}

	mock.ExpectQuery("from sessions where id = \\$1").WithArgs("gone").WillReturnError(sql.ErrNoRows)
	if _, err := store.FindByID(context.Background(), "gone"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSessionStoreCreateUnknownUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into sessions").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := s.Sessions().Create(context.Background(), session.Session{ID: "s1", UserID: "ghost"})
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected wrapped PgError, got %v", err)
	}
}

func TestSessionStoreListUpdateDelete(t *testing.T) {
	s, mock := newMock(t)
	store := s.Sessions()
	now := time.Now().UTC()

	mock.ExpectQuery("from sessions.*where user_id = \\$1.*order by created_at").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(sessionCols).
			AddRow("s1", "u1", "a", now, now, now, nil, nil).
			AddRow("s2", "u1", "b", now, now, now, "1.1.1.1", "curl"))
	list, err := store.ListByUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(list) != 2 || list[1].UserAgent != "curl" {
		t.Fatalf("unexpected list: %+v", list)
	}

	mock.ExpectExec("update sessions").WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Update(context.Background(), list[0]); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	mock.ExpectExec("delete from sessions where id = \\$1").WithArgs("s2").WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Delete(context.Background(), "s2"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	cutoff := now.Add(-time.Minute)
	mock.ExpectExec("delete from sessions where expires_at <= \\$1").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))
	n, err := store.DeleteExpired(context.Background(), cutoff)
	if err != nil || n != 3 {
		t.Fatalf("DeleteExpired: n=%d err=%v", n, err)
	}
}
