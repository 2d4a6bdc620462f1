package auth

import (
	"context"
	"errors"
	"time"

	"github.com/keithlinneman/tradedesk/internal/log"
	"github.com/keithlinneman/tradedesk/internal/store"
	"github.com/keithlinneman/tradedesk/internal/xerrors"
)

var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Users is the slice of the store the service needs.
type Users interface {
	CreateUser(ctx context.Context, email, passwordHash, role string) (store.User, error)
	UserByEmail(ctx context.Context, email string) (store.User, error)
}

type Service struct {
	users  Users
	tokens *Tokens
}

func NewService(users Users, tokens *Tokens) *Service {
	return &Service{users: users, tokens: tokens}
}

func (s *Service) Tokens() *Tokens { return s.tokens }

type Session struct {
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expiresAt"`
	User      store.User `json:"user"`
}

// Login checks the password and issues a token. Unknown emails and wrong
// passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.users.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		CheckPassword(string(dummyHash), password)
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, xerrors.Wrap(err, "load user")
	}
	if !CheckPassword(u.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}
	tok, exp, err := s.tokens.Issue(Principal{UserID: u.ID, Role: u.Role})
	if err != nil {
		return Session{}, err
	}
	return Session{Token: tok, ExpiresAt: exp, User: u}, nil
}

// Register hashes password and creates the user. Duplicate emails surface
// as store.ErrConflict.
func (s *Service) Register(ctx context.Context, email, password, role string) (store.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return store.User{}, err
	}
	return s.users.CreateUser(ctx, email, hash, role)
}

// EnsureAdmin creates the bootstrap admin on first start. An existing
// account with that email is left untouched.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	if email == "" {
		return nil
	}
	L := log.FromContext(ctx)
	if _, err := s.users.UserByEmail(ctx, email); err == nil {
		L.Debug(ctx, "bootstrap admin already present")
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return xerrors.Wrap(err, "look up bootstrap admin")
	}
	u, err := s.Register(ctx, email, password, store.RoleAdmin)
	if errors.Is(err, store.ErrConflict) {
		return nil
	}
	if err != nil {
		return xerrors.Wrap(err, "create bootstrap admin")
	}
	L.Info(ctx, "bootstrap admin created", "user.id", u.ID)
	return nil
}
