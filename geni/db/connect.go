package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/iam-geni/geni/config"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

const (
	TypeSQLite = "sqlite"
	TypeLibSQL = "libsql"
)

// ConnectToDB opens the thread store database described by cfg.
// The libsql driver must be registered by the binary (it requires cgo);
// the pure-Go sqlite driver is always available.
func ConnectToDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*sql.DB, error) {
	driver, err := driverName(cfg.Type)
	if err != nil {
		return nil, err
	}

	// Ensure database directory exists for embedded mode
	if path := filePath(cfg.DSN); path != "" && path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}

	logger.Info().Str("driver", driver).Str("dsn", cfg.DSN).Msg("Connecting to thread store")

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	// Basic connectivity
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		db.Close()
		return nil, fmt.Errorf("basic connectivity test failed: %w", err)
	}

	if driver == TypeSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent handlers
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

func driverName(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "", TypeSQLite, "sqlite3":
		return TypeSQLite, nil
	case TypeLibSQL, "turso":
		return TypeLibSQL, nil
	default:
		return "", fmt.Errorf("unsupported database type %q", dbType)
	}
}

// filePath extracts the filesystem path of a file: DSN, or "" for other forms.
func filePath(dsn string) string {
	path, ok := strings.CutPrefix(dsn, "file:")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
