package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"harborvisa.org/internal/auth"
)

// AccountStore implements auth.AccountStore over the admins table.
type AccountStore struct {
	db *sql.DB
}

var _ auth.AccountStore = (*AccountStore)(nil)

const adminColumns = `id, email, name, role, password_hash, password_rotated_at, active, created_at, updated_at`

func scanAdmin(row interface{ Scan(...any) error }) (auth.Admin, error) {
	var (
		a       auth.Admin
		role    string
		rotated sql.NullTime
	)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &role, &a.PasswordHash, &rotated, &a.Active, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Admin{}, auth.ErrNotFound
		}
		return auth.Admin{}, err
	}
	a.Role = auth.Role(role)
	a.PasswordRotatedAt = timePtr(rotated)
	return a, nil
}

func (s *AccountStore) FindByEmail(ctx context.Context, email string) (auth.Admin, error) {
	if s.db == nil {
		return auth.Admin{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+adminColumns+`
		from admins
		where lower(email) = lower($1)
	`, strings.TrimSpace(email))
	return scanAdmin(row)
}

func (s *AccountStore) Find(ctx context.Context, id int64) (auth.Admin, error) {
	if s.db == nil {
		return auth.Admin{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		select `+adminColumns+`
		from admins
		where id = $1
	`, id)
	return scanAdmin(row)
}

// Create provisions an account with an already-hashed password.
func (s *AccountStore) Create(ctx context.Context, email, name string, role auth.Role, passwordHash string) (auth.Admin, error) {
	if s.db == nil {
		return auth.Admin{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `
		insert into admins (email, name, role, password_hash, active)
		values (lower($1), $2, $3, $4, true)
		returning `+adminColumns,
		strings.TrimSpace(email), strings.TrimSpace(name), string(role), passwordHash)
	a, err := scanAdmin(row)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.Admin{}, fmt.Errorf("%w: email already registered", auth.ErrConflict)
		}
		return auth.Admin{}, err
	}
	return a, nil
}

func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id int64, expectedHash, newHash string, rotatedAt time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update admins
		set password_hash = $3, password_rotated_at = $4, updated_at = $4
		where id = $1 and password_hash = $2
	`, id, expectedHash, newHash, rotatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from admins where id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return auth.ErrNotFound
	}
	return auth.ErrConflict
}

func (s *AccountStore) SetActive(ctx context.Context, id int64, active bool) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update admins set active = $2, updated_at = now() where id = $1`, id, active)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return auth.ErrNotFound
	}
	return nil
}
