package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/dkeye/sigrelay/internal/domain"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS users (
	username      TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1,
	is_verified   INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
)`

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the user database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// WAL lets usersctl write while the server reads.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create users table: %w", err)
	}

	log.Info().Str("module", "store").Str("driver", "sqlite").Str("path", path).Msg("user store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, username string) (domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, email, password_hash, is_active, is_verified, created_at FROM users WHERE username = ?`,
		username)
	u, err := scanSQLiteUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u domain.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, email, password_hash, is_active, is_verified, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.PasswordHash, u.Active, u.Verified, u.CreatedAt.Unix())
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrExists
	}
	return err
}

func (s *SQLiteStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	return affectedOne(res, err)
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT username, email, password_hash, is_active, is_verified, created_at FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetActive(ctx context.Context, username string, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_active = ? WHERE username = ?`, active, username)
	return affectedOne(res, err)
}

func (s *SQLiteStore) SetVerified(ctx context.Context, username string, verified bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_verified = ? WHERE username = ?`, verified, username)
	return affectedOne(res, err)
}

func (s *SQLiteStore) SetPassword(ctx context.Context, username, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE username = ?`, passwordHash, username)
	return affectedOne(res, err)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteUser(scan func(dest ...any) error) (domain.User, error) {
	var (
		u       domain.User
		created int64
	)
	if err := scan(&u.Username, &u.Email, &u.PasswordHash, &u.Active, &u.Verified, &created); err != nil {
		return domain.User{}, err
	}
	u.CreatedAt = time.Unix(created, 0)
	return u, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
