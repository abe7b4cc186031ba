package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	"github.com/pressly/goose/v3"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Postgres is the dialect for the pgx driver.
var Postgres = Dialect{
	Name:        "postgres",
	Goose:       goose.DialectPostgres,
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Quote: func(ident string) string {
		return pgx.Identifier{ident}.Sanitize()
	},
	IsUniqueViolation: isPostgresUniqueViolation,
}

func isPostgresUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// OpenPostgres connects to dsn, verifies the connection, and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN is required")
	}
	openMu.Lock()
	db, err := sqlOpen("pgx", dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s, err := New(ctx, db, Postgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}
