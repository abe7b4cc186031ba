package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"

	"github.com/hyperengineering/labsync/migrations"
	"github.com/pressly/goose/v3"
)

// RunMigrations applies the local cache schema using goose.
// It uses the embedded SQL files under migrations/local.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations.FS, "local")
	if err != nil {
		return fmt.Errorf("open local migrations: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
