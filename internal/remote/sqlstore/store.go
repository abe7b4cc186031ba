// Package sqlstore implements remote.Store on a SQL database.
//
// The same table schema (migrations/server) and query builder serve both
// the SQLite backend, used for self-hosted and test servers, and the
// Postgres backend, the hosted database behind the lab's backend service.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/snapshot"
	"github.com/hyperengineering/labsync/migrations"
	"github.com/pressly/goose/v3"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name  string
	Goose goose.Dialect
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder func(n int) string
	// Quote returns a safely quoted identifier.
	Quote func(ident string) string
	// IsUniqueViolation reports whether err is the driver's unique-constraint error.
	IsUniqueViolation func(err error) bool
}

// Store is a remote.Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

var (
	_ remote.Store  = (*Store)(nil)
	_ remote.Pinger = (*Store)(nil)
)

// New wraps db and applies the server schema migrations.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	if err := RunMigrations(ctx, db, d); err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// RunMigrations applies migrations/server with the dialect's goose driver.
func RunMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	fsys, err := fs.Sub(migrations.FS, "server")
	if err != nil {
		return fmt.Errorf("open server migrations: %w", err)
	}
	provider, err := goose.NewProvider(d.Goose, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Dialect returns the store's dialect name.
func (s *Store) Dialect() string { return s.dialect.Name }

// Ping implements remote.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Snapshot writes a consistent copy of a SQLite database to destPath.
// Other backends return snapshot.ErrUnsupported; Postgres is backed up
// with its own tooling.
func (s *Store) Snapshot(ctx context.Context, destPath string) error {
	if s.dialect.Name != SQLite.Name {
		return fmt.Errorf("%s: %w", s.dialect.Name, snapshot.ErrUnsupported)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("vacuum into %s: %w", destPath, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Select implements remote.Store.
func (s *Store) Select(ctx context.Context, table string, filters ...remote.Filter) ([]remote.Row, error) {
	query, args, err := buildSelect(s.dialect, table, filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select %s columns: %w", table, err)
	}

	var out []remote.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(remote.Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Insert implements remote.Store.
func (s *Store) Insert(ctx context.Context, table string, row remote.Row) error {
	query, args, err := buildInsert(s.dialect, table, row)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.wrap("insert", table, err)
	}
	return nil
}

// Update implements remote.Store.
func (s *Store) Update(ctx context.Context, table, id string, patch remote.Row) error {
	query, args, err := buildUpdate(s.dialect, table, id, patch)
	if err != nil {
		return err
	}
	if query == "" {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.wrap("update", table, err)
	}
	return nil
}

// Delete implements remote.Store.
func (s *Store) Delete(ctx context.Context, table string, match remote.Filter) error {
	query, args, err := buildDelete(s.dialect, table, match)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.wrap("delete", table, err)
	}
	return nil
}

func (s *Store) wrap(op, table string, err error) error {
	if s.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%s %s: %w: %v", op, table, remote.ErrUniqueViolation, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

func buildSelect(d Dialect, table string, filters []remote.Filter) (string, []any, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(d.Quote(table))

	args := make([]any, 0, len(filters))
	for i, f := range filters {
		if err := remote.CheckColumn(f.Column); err != nil {
			return "", nil, err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(d.Quote(f.Column))
		b.WriteString(" = ")
		b.WriteString(d.Placeholder(i + 1))
		args = append(args, f.Value)
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(d.Quote("id"))
	return b.String(), args, nil
}

func buildInsert(d Dialect, table string, row remote.Row) (string, []any, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", nil, err
	}
	cols, err := sortedColumns(row, "")
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("insert %s: empty row", table)
	}

	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = d.Quote(c)
		marks[i] = d.Placeholder(i + 1)
		args[i] = row[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.Quote(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))
	return query, args, nil
}

// buildUpdate returns an empty query when patch has nothing besides id.
func buildUpdate(d Dialect, table, id string, patch remote.Row) (string, []any, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", nil, err
	}
	cols, err := sortedColumns(patch, "id")
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, nil
	}

	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = d.Quote(c) + " = " + d.Placeholder(i+1)
		args = append(args, patch[c])
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.Quote(table), strings.Join(sets, ", "), d.Quote("id"), d.Placeholder(len(cols)+1))
	return query, args, nil
}

func buildDelete(d Dialect, table string, match remote.Filter) (string, []any, error) {
	if err := remote.CheckTable(table); err != nil {
		return "", nil, err
	}
	if err := remote.CheckColumn(match.Column); err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.Quote(table), d.Quote(match.Column), d.Placeholder(1))
	return query, []any{match.Value}, nil
}

func sortedColumns(row remote.Row, skip string) ([]string, error) {
	cols := make([]string, 0, len(row))
	for c := range row {
		if c == skip {
			continue
		}
		if err := remote.CheckColumn(c); err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols, nil
}
