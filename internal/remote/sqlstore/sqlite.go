package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLite is the dialect for modernc.org/sqlite.
var SQLite = Dialect{
	Name:        "sqlite",
	Goose:       goose.DialectSQLite3,
	Placeholder: func(int) string { return "?" },
	Quote: func(ident string) string {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	},
	IsUniqueViolation: isSQLiteUniqueViolation,
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
		return false
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// OpenSQLite opens (or creates) a SQLite-backed remote store at dbPath.
func OpenSQLite(ctx context.Context, dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	s, err := New(ctx, db, SQLite)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
