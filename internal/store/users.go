package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CreateUser inserts a user. A duplicate email (case-insensitive) returns
// ErrConflict.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash, role string) (User, error) {
	u := User{
		Email:        strings.TrimSpace(email),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    s.now().UTC().Truncate(time.Millisecond),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role, created_at) VALUES (?, ?, ?, ?)`,
		u.Email, u.PasswordHash, u.Role, toMillis(u.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, xerrors.Wrap(err, "insert user")
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return User{}, xerrors.Wrap(err, "user id")
	}
	return u, nil
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email = ?`,
		strings.TrimSpace(email),
	))
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE id = ?`, id,
	))
}

func (s *Store) scanUser(row *sql.Row) (User, error) {
	var (
		u       User
		created int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, xerrors.Wrap(err, "scan user")
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}
