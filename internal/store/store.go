// Package store persists the accounts allowed to use the relay.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/domain"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

type UserStore interface {
	GetUser(ctx context.Context, username string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error
	DeleteUser(ctx context.Context, username string) error
	// ListUsers returns every account ordered by username.
	ListUsers(ctx context.Context) ([]domain.User, error)
	SetActive(ctx context.Context, username string, active bool) error
	SetVerified(ctx context.Context, username string, verified bool) error
	SetPassword(ctx context.Context, username, passwordHash string) error
	Close() error
}

// Open returns the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (UserStore, error) {
	switch cfg.Driver {
	case "sqlite":
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(ctx, cfg.Postgres)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
