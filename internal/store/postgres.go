package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/domain"
)

const postgresSchema = `CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	is_verified   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// uniqueViolation is the SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

// BuildConnString renders cfg as a postgres:// URL. sslmode defaults to prefer.
func BuildConnString(cfg config.PostgresConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	log.Info().Str("module", "store").Str("driver", "postgres").Str("host", cfg.Host).Str("db", cfg.Name).Msg("user store opened")
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, username string) (domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx,
		`SELECT username, email, password_hash, is_active, is_verified, created_at FROM users WHERE username = $1`,
		username).Scan(&u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Verified, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (username, email, password_hash, is_active, is_verified, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.Username, u.Email, u.PasswordHash, u.Active, u.Verified, u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrExists
	}
	return err
}

func (s *PostgresStore) DeleteUser(ctx context.Context, username string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	return pgAffectedOne(tag, err)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username, email, password_hash, is_active, is_verified, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Verified, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetActive(ctx context.Context, username string, active bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_active = $1 WHERE username = $2`, active, username)
	return pgAffectedOne(tag, err)
}

func (s *PostgresStore) SetVerified(ctx context.Context, username string, verified bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET is_verified = $1 WHERE username = $2`, verified, username)
	return pgAffectedOne(tag, err)
}

func (s *PostgresStore) SetPassword(ctx context.Context, username, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE username = $2`, passwordHash, username)
	return pgAffectedOne(tag, err)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgAffectedOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
