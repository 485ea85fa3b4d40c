package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"harborvisa.org/internal/auth"
)

var adminCols = []string{"id", "email", "name", "role", "password_hash", "password_rotated_at", "active", "created_at", "updated_at"}

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

func TestFindByEmail(t *testing.T) {
	store, mock := newMock(t)
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("from admins\\s+where lower\\(email\\) = lower\\(\\$1\\)").
		WithArgs("Ops@Example.com").
		WillReturnRows(sqlmock.NewRows(adminCols).
			AddRow(int64(3), "ops@example.com", "Ops", "super_admin", "$argon2id$...", nil, true, created, created))

	a, err := store.Accounts().FindByEmail(context.Background(), " Ops@Example.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if a.ID != 3 || a.Role != auth.RoleSuperAdmin || !a.Active || a.PasswordRotatedAt != nil {
		t.Fatalf("unexpected admin: %+v", a)
	}
}

func TestFindNotFound(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("from admins\\s+where id = \\$1").WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(adminCols))

	if _, err := store.Accounts().Find(context.Background(), 9); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePasswordHash(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("update admins\\s+set password_hash = \\$3").
		WithArgs(int64(3), "old", "new", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Accounts().UpdatePasswordHash(context.Background(), 3, "old", "new", at); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
}

func TestUpdatePasswordHashConflictAndMissing(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("update admins").WithArgs(int64(3), "stale", "new", at).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs(int64(3)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := store.Accounts().UpdatePasswordHash(context.Background(), 3, "stale", "new", at); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	mock.ExpectExec("update admins").WithArgs(int64(4), "old", "new", at).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").WithArgs(int64(4)).WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := store.Accounts().UpdatePasswordHash(context.Background(), 4, "old", "new", at); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("insert into admins").
		WithArgs("ops@example.com", "Ops", "admin", "digest").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	_, err := store.Accounts().Create(context.Background(), "ops@example.com", "Ops", auth.RoleAdmin, "digest")
	if !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSetActiveUnknown(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("update admins set active = \\$2").WithArgs(int64(5), false).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Accounts().SetActive(context.Background(), 5, false); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
