// Package auth registers accounts, issues access tokens and resolves a
// bearer token back to a chat.Identity.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/samber/lo"
)

var (
	ErrInvalidCredentials = fmt.Errorf("%w: invalid username or password", chat.ErrAuthorization)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", chat.ErrAuthorization)
	ErrMissingToken       = fmt.Errorf("%w: no token provided", chat.ErrAuthorization)
	ErrForbidden          = fmt.Errorf("%w: not allowed", chat.ErrAuthorization)
)

var validate = chat.NewValidator()

// UserStore is the account storage the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u chat.User) (chat.User, error)
	UserByID(ctx context.Context, id string) (chat.User, error)
	UserByUsername(ctx context.Context, username string) (chat.User, error)
	ListUsers(ctx context.Context) ([]chat.User, error)
	UpdateUser(ctx context.Context, u chat.User) error
	DeleteUser(ctx context.Context, id string) error
}

// Session is returned by Register and Login.
type Session struct {
	chat.Identity
	Token string `json:"token"`
}

type Credentials struct {
	Username string `json:"username" validate:"required,min=3,max=32"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// ProfileUpdate changes a username, a password or both.
type ProfileUpdate struct {
	Username string `json:"username" validate:"omitempty,min=3,max=32"`
	Password string `json:"password" validate:"omitempty,min=6,max=72"`
}

type Service struct {
	log    *slog.Logger
	users  UserStore
	tokens *Issuer
	admins map[string]bool
}

// NewService builds the account service. Usernames listed in admins are
// granted the admin flag when they register.
func NewService(log *slog.Logger, users UserStore, tokens *Issuer, admins []string) *Service {
	return &Service{
		log:    log,
		users:  users,
		tokens: tokens,
		admins: lo.SliceToMap(admins, func(name string) (string, bool) {
			return strings.ToLower(strings.TrimSpace(name)), true
		}),
	}
}

func (s *Service) Register(ctx context.Context, creds Credentials) (Session, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if err := validate.Struct(creds); err != nil {
		return Session{}, chat.ValidationFailure(err)
	}

	hash, err := HashPassword(creds.Password)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.users.CreateUser(ctx, chat.User{
		Username:     creds.Username,
		PasswordHash: hash,
		IsAdmin:      s.admins[strings.ToLower(creds.Username)],
	})
	if err != nil {
		return Session{}, err
	}
	s.log.Info("user registered", "user_id", user.ID, "username", user.Username, "admin", user.IsAdmin)
	return s.session(user)
}

func (s *Service) Login(ctx context.Context, creds Credentials) (Session, error) {
	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		return Session{}, ErrInvalidCredentials
	}

	user, err := s.users.UserByUsername(ctx, creds.Username)
	if errors.Is(err, chat.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}

	ok, err := ComparePassword(creds.Password, user.PasswordHash)
	if err != nil {
		return Session{}, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return Session{}, ErrInvalidCredentials
	}
	return s.session(user)
}

// Authenticate verifies token and loads the user it names. A token for a
// deleted account is rejected.
func (s *Service) Authenticate(ctx context.Context, token string) (chat.Identity, error) {
	if token == "" {
		return chat.Identity{}, ErrMissingToken
	}
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return chat.Identity{}, err
	}
	user, err := s.users.UserByID(ctx, claims.UserID)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Identity{}, ErrInvalidToken
	}
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.IdentityOf(user), nil
}

func (s *Service) ListUsers(ctx context.Context, who chat.Identity) ([]chat.Identity, error) {
	if !who.IsAdmin {
		return nil, ErrForbidden
	}
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return lo.Map(users, func(u chat.User, _ int) chat.Identity { return chat.IdentityOf(u) }), nil
}

// UpdateUser applies upd to the account id. Users may edit themselves,
// admins may edit anyone.
func (s *Service) UpdateUser(ctx context.Context, who chat.Identity, id string, upd ProfileUpdate) (chat.Identity, error) {
	if who.IsAnonymous() || (who.ID != id && !who.IsAdmin) {
		return chat.Identity{}, ErrForbidden
	}

	upd.Username = strings.TrimSpace(upd.Username)
	if err := validate.Struct(upd); err != nil {
		return chat.Identity{}, chat.ValidationFailure(err)
	}
	if upd.Username == "" && upd.Password == "" {
		return chat.Identity{}, fmt.Errorf("%w: no changes", chat.ErrValidation)
	}

	user, err := s.users.UserByID(ctx, id)
	if err != nil {
		return chat.Identity{}, err
	}
	if upd.Username != "" {
		user.Username = upd.Username
	}
	if upd.Password != "" {
		if user.PasswordHash, err = HashPassword(upd.Password); err != nil {
			return chat.Identity{}, fmt.Errorf("hash password: %w", err)
		}
	}
	if err := s.users.UpdateUser(ctx, user); err != nil {
		return chat.Identity{}, err
	}
	return chat.IdentityOf(user), nil
}

func (s *Service) DeleteUser(ctx context.Context, who chat.Identity, id string) error {
	if !who.IsAdmin {
		return ErrForbidden
	}
	return s.users.DeleteUser(ctx, id)
}

func (s *Service) session(user chat.User) (Session, error) {
	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{Identity: chat.IdentityOf(user), Token: token}, nil
}
