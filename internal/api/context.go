package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/labsync/internal/remote"
)

// tableContextKey is the context key for the resolved table name.
type tableContextKey struct{}

// ErrNoTableInContext indicates no table was found in the context.
var ErrNoTableInContext = errors.New("no table in context")

// WithTable returns a new context with the table name attached.
func WithTable(ctx context.Context, table string) context.Context {
	return context.WithValue(ctx, tableContextKey{}, table)
}

// TableFromContext extracts the table name from the context.
// Returns ErrNoTableInContext if not present or empty.
func TableFromContext(ctx context.Context) (string, error) {
	t, ok := ctx.Value(tableContextKey{}).(string)
	if !ok || t == "" {
		return "", ErrNoTableInContext
	}
	return t, nil
}

// MustTableFromContext extracts the table or panics.
// Use only when TableMiddleware guarantees table presence.
func MustTableFromContext(ctx context.Context) string {
	t, err := TableFromContext(ctx)
	if err != nil {
		panic("table not in context: middleware misconfiguration")
	}
	return t
}

// TableMiddleware resolves the {table} URL parameter, rejecting tables
// outside the remote schema with 404.
func TableMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table := chi.URLParam(r, "table")
		if !remote.KnownTable(table) {
			WriteProblem(w, r, http.StatusNotFound, "Unknown table: "+table)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTable(r.Context(), table)))
	})
}
