package store

import (
	"context"
	"testing"

	"github.com/chatlens/chatlens/internal/config"
	"github.com/stretchr/testify/require"
)

func TestBuildLibsqlDSN(t *testing.T) {
	t.Run("URLUsesRawValue", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=token123", dsn)
	})

	t.Run("URLKeepsExistingToken", func(t *testing.T) {
		cfg := config.StoreConfig{
			URL:       "libsql://example.turso.io?authToken=abc",
			AuthToken: "token123",
		}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "libsql://example.turso.io?authToken=abc", dsn)
	})

	t.Run("PathWithFilePrefix", func(t *testing.T) {
		cfg := config.StoreConfig{Path: "file:./chatlens.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:./chatlens.db", dsn)
	})

	t.Run("PlainPathCreatesDir", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.StoreConfig{Path: dir + "/nested/chatlens.db"}

		dsn, err := buildLibsqlDSN(cfg)
		require.NoError(t, err)
		require.Equal(t, "file:"+dir+"/nested/chatlens.db", dsn)
		require.DirExists(t, dir+"/nested")
	})

	t.Run("PathMissing", func(t *testing.T) {
		_, err := buildLibsqlDSN(config.StoreConfig{})
		require.Error(t, err)
	})

	t.Run("MemoryPath", func(t *testing.T) {
		dsn, err := buildLibsqlDSN(config.StoreConfig{Path: ":memory:"})
		require.NoError(t, err)
		require.Equal(t, ":memory:", dsn)
	})
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Driver: "postgres", Path: ":memory:"})
	require.ErrorContains(t, err, "unsupported store driver")
}

func TestNilStore(t *testing.T) {
	var s *Store
	require.NoError(t, s.Close())
	require.Empty(t, s.Driver())
	require.ErrorIs(t, s.Ping(context.Background()), ErrNotInitialized)
	require.ErrorIs(t, s.Migrate(context.Background()), ErrNotInitialized)

	_, err := s.ListConversations(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNotInitialized)
}
