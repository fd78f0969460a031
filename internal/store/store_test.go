package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/sigrelay/internal/config"
	"github.com/dkeye/sigrelay/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nested", "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.CreateUser(ctx, domain.User{
		Username:     "alice",
		Email:        "alice@example.com",
		PasswordHash: "hash-1",
		Active:       true,
	}))
	assert.ErrorIs(t, s.CreateUser(ctx, domain.User{Username: "alice", PasswordHash: "x"}), ErrExists)

	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.True(t, u.Active)
	assert.False(t, u.Verified)
	assert.False(t, u.CanSignal())
	assert.False(t, u.CreatedAt.IsZero())

	require.NoError(t, s.SetVerified(ctx, "alice", true))
	require.NoError(t, s.SetPassword(ctx, "alice", "hash-2"))
	u, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.CanSignal())
	assert.Equal(t, "hash-2", u.PasswordHash)

	require.NoError(t, s.SetActive(ctx, "alice", false))
	u, err = s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, u.CanSignal())

	require.NoError(t, s.DeleteUser(ctx, "alice"))
	_, err = s.GetUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_MissingUser(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	assert.ErrorIs(t, s.DeleteUser(ctx, "ghost"), ErrNotFound)
	assert.ErrorIs(t, s.SetActive(ctx, "ghost", true), ErrNotFound)
	assert.ErrorIs(t, s.SetVerified(ctx, "ghost", true), ErrNotFound)
	assert.ErrorIs(t, s.SetPassword(ctx, "ghost", "h"), ErrNotFound)
}

func TestSQLiteStore_ListSorted(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, name := range []string{"carol", "alice", "bob"} {
		require.NoError(t, s.CreateUser(ctx, domain.User{Username: name, PasswordHash: "h"}))
	}
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []string{"alice", "bob", "carol"}, []string{users[0].Username, users[1].Username, users[2].Username})
}

func TestSQLiteStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users.db")

	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(ctx, domain.User{Username: "alice", PasswordHash: "h", Active: true, Verified: true}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.CanSignal())
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestBuildConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.PostgresConfig
		want string
	}{
		{
			name: "defaults sslmode",
			cfg:  config.PostgresConfig{Host: "db", Port: 5432, Name: "sigrelay", User: "relay", Password: "pw"},
			want: "postgres://relay:pw@db:5432/sigrelay?sslmode=prefer",
		},
		{
			name: "escapes password",
			cfg:  config.PostgresConfig{Host: "db", Port: 6432, Name: "n", User: "u", Password: "p@ss/w:rd", SSLMode: "require"},
			want: "postgres://u:p%40ss%2Fw%3Ard@db:6432/n?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildConnString(tt.cfg))
		})
	}
}
