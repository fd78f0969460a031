package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/domain"
	"github.com/dkeye/sigrelay/internal/store"
)

var ErrBadCredentials = errors.New("incorrect username or password")

// Service ties token handling to the user store.
type Service struct {
	Tokens *Tokens
	Users  store.UserStore
}

func NewService(tokens *Tokens, users store.UserStore) *Service {
	return &Service{Tokens: tokens, Users: users}
}

// Authenticate resolves a signaling token. The account must exist and be
// both active and verified.
func (s *Service) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	u, err := s.user(ctx, token)
	if err != nil {
		return domain.Identity{}, err
	}
	if !u.CanSignal() {
		return domain.Identity{}, domain.ErrUserInactive
	}
	return domain.Identity{Username: u.Username, Email: u.Email}, nil
}

// Current resolves a REST bearer token to an active account.
func (s *Service) Current(ctx context.Context, token string) (domain.User, error) {
	u, err := s.user(ctx, token)
	if err != nil {
		return domain.User{}, err
	}
	if !u.Active {
		return domain.User{}, domain.ErrUserInactive
	}
	return u, nil
}

func (s *Service) user(ctx context.Context, token string) (domain.User, error) {
	username, err := s.Tokens.Subject(token)
	if err != nil {
		return domain.User{}, err
	}
	u, err := s.Users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, domain.ErrUserInactive
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

// Login checks credentials and issues a token for an active account.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	u, err := s.Users.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn().Str("module", "auth").Str("user", username).Msg("login for unknown user")
		return "", time.Time{}, ErrBadCredentials
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("load user: %w", err)
	}
	if !CheckPassword(u.PasswordHash, password) || !u.Active {
		log.Warn().Str("module", "auth").Str("user", username).Msg("login rejected")
		return "", time.Time{}, ErrBadCredentials
	}
	log.Info().Str("module", "auth").Str("user", username).Msg("login")
	return s.Tokens.Issue(u.Username)
}
