package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/chatlens/chatlens/internal/config"
)

const driverLibsql = "libsql"

// ErrNotInitialized is returned by methods called on a nil or closed store.
var ErrNotInitialized = errors.New("store is not initialized")

// Store wraps the database connection holding conversations and messages.
type Store struct {
	DB     *sql.DB
	driver string
}

// Open connects to the conversation store described by cfg. Local files are
// created on demand and switched to WAL with a single writer connection.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	driver := strings.TrimSpace(cfg.Driver)
	if driver == "" {
		driver = driverLibsql
	}
	if driver != driverLibsql {
		return nil, fmt.Errorf("unsupported store driver: %s", driver)
	}

	dsn, err := buildLibsqlDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverLibsql, dsn)
	if err != nil {
		return nil, fmt.Errorf("open libsql store: %w", err)
	}

	if err := prepare(ctx, db, dsn); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db, driver: driver}, nil
}

func prepare(ctx context.Context, db *sql.DB, dsn string) error {
	if strings.HasPrefix(dsn, "file:") {
		if err := configureLocal(ctx, db); err != nil {
			return err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping libsql store: %w", err)
	}
	return nil
}

// Close releases the connection pool. Closing a nil store is a no-op.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// Driver names the backing database driver.
func (s *Store) Driver() string {
	if s == nil {
		return ""
	}
	return s.driver
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.DB.PingContext(ctx)
}

// configureLocal serializes writes to a local SQLite file through one connection.
func configureLocal(ctx context.Context, db *sql.DB) error {
	db.SetMaxOpenConns(1)

	pragmas := []struct{ stmt, what string }{
		{"PRAGMA journal_mode=WAL", "enable wal"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		var result any
		if err := db.QueryRowContext(ctx, p.stmt).Scan(&result); err != nil {
			return fmt.Errorf("%s: %w", p.what, err)
		}
	}
	return nil
}

// buildLibsqlDSN turns the store config into a go-libsql DSN. A URL (remote
// libsql or Turso) takes precedence over a path. Plain paths become file: DSNs
// and their parent directory is created.
func buildLibsqlDSN(cfg config.StoreConfig) (string, error) {
	if remote := strings.TrimSpace(cfg.URL); remote != "" {
		return withAuthToken(remote, cfg.AuthToken)
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return "", errors.New("store path or url is required")
	case path == ":memory:", strings.HasPrefix(path, "libsql:"):
		return path, nil
	case strings.HasPrefix(path, "file:"):
		parsed, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid store path: %w", err)
		}
		local := parsed.Path
		if local == "" {
			local = parsed.Opaque
		}
		return path, makeParentDir(strings.TrimPrefix(local, "//"))
	default:
		return "file:" + filepath.Clean(path), makeParentDir(path)
	}
}

// withAuthToken adds authToken to the URL query unless it already has one.
func withAuthToken(dsn, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return dsn, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	query := parsed.Query()
	if query.Get("authToken") != "" {
		return dsn, nil
	}
	query.Set("authToken", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func makeParentDir(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if strings.TrimSpace(path) == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}
