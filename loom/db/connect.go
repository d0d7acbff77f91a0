// Package db opens the embedded libsql database and keeps its schema current.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
	_ "github.com/tursodatabase/go-libsql"
)

//go:embed migrations/*.sql
var migrations embed.FS

// LibSQLEmbeddedConfig holds configuration for embedded libsql connections
type LibSQLEmbeddedConfig struct {
	DatabasePath string // Path to .db file
	Logger       zerolog.Logger
}

// ConnectToDB opens the database at path and applies pending migrations.
func ConnectToDB(ctx context.Context, path string) (*sql.DB, error) {
	return ConnectToDBWithConfig(ctx, &LibSQLEmbeddedConfig{DatabasePath: path, Logger: zerolog.Nop()})
}

func ConnectToDBWithConfig(ctx context.Context, config *LibSQLEmbeddedConfig) (*sql.DB, error) {
	dir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
	}

	dsn := "file:" + config.DatabasePath
	config.Logger.Info().Str("dsn", dsn).Msg("Connecting to embedded libsql")

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open libsql connection: %w", err)
	}

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		db.Close()
		return nil, fmt.Errorf("basic connectivity test failed: %w", err)
	}

	if err := Migrate(ctx, db, config.Logger); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Migrate runs the embedded goose migrations against db.
func Migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectTurso, db, fsys)
	if err != nil {
		return fmt.Errorf("failed to create goose provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}
	for _, r := range results {
		logger.Debug().Str("migration", r.Source.Path).Dur("duration", r.Duration).Msg("applied migration")
	}

	return nil
}
