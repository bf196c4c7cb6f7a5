package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate applies the embedded thread store migrations.
func Migrate(ctx context.Context, db *sql.DB, dbType string, logger zerolog.Logger) error {
	driver, err := driverName(dbType)
	if err != nil {
		return err
	}

	dialect := goose.DialectSQLite3
	if driver == TypeLibSQL {
		dialect = goose.DialectTurso
	}

	fsys, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug().Int64("version", r.Source.Version).Dur("duration", r.Duration).Msg("Applied migration")
	}
	return nil
}
