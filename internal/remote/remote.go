// Package remote defines the collection API of the shared remote store
// and the row shape exchanged with it.
//
// Implementations live in subpackages (sqlstore for SQLite and Postgres,
// httpclient for the REST API) plus the in-memory MemoryStore.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrUniqueViolation is returned when an insert or update breaks a
	// unique constraint. Implementations wrap it so errors.Is matches.
	ErrUniqueViolation = errors.New("unique constraint violated")
	// ErrUnknownTable is returned for tables outside the schema.
	ErrUnknownTable = errors.New("unknown table")
	// ErrInvalidColumn is returned for column names that are not plain identifiers.
	ErrInvalidColumn = errors.New("invalid column name")
)

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	return errors.Is(err, ErrUniqueViolation)
}

// Row is one remote record keyed by snake_case column name.
type Row map[string]any

// Filter is an equality match on one column.
type Filter struct {
	Column string
	Value  any
}

// Eq returns a Filter matching column = value.
func Eq(column string, value any) Filter {
	return Filter{Column: column, Value: value}
}

// Store is the asynchronous collection API of the remote store.
// All methods honor ctx cancellation and deadlines.
type Store interface {
	// Select returns the rows of table matching every filter.
	Select(ctx context.Context, table string, filters ...Filter) ([]Row, error)
	// Insert adds row to table.
	Insert(ctx context.Context, table string, row Row) error
	// Update overwrites the columns in patch on the row with the given id.
	// Updating a missing row is not an error.
	Update(ctx context.Context, table, id string, patch Row) error
	// Delete removes the rows matching match.
	Delete(ctx context.Context, table string, match Filter) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Change describes a committed remote mutation.
type Change struct {
	Table     string `json:"table"`
	Operation string `json:"operation"`
	ID        string `json:"id,omitempty"`
}

// Watcher is implemented by stores that stream remote changes.
// The channel is closed when ctx ends or the stream breaks.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Change, error)
}

// Tables lists the remote tables and the columns each must keep unique
// besides its primary key "id".
var Tables = map[string][]string{
	"staff":        {"phone"},
	"phlebotomist": {"phone"},
	"users":        {"username"},
	"tests":        {"test_code"},
}

// KnownTable reports whether table is part of the remote schema.
func KnownTable(table string) bool {
	_, ok := Tables[table]
	return ok
}

var identRE = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// CheckColumn returns ErrInvalidColumn unless name is a lowercase identifier.
func CheckColumn(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidColumn, name)
	}
	return nil
}

// CheckTable returns ErrUnknownTable unless table is part of the schema.
func CheckTable(table string) error {
	if !KnownTable(table) {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	return nil
}
