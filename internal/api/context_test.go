package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

// TestWithTable_TableFromContext_RoundTrip verifies a table can be added and extracted from context.
func TestWithTable_TableFromContext_RoundTrip(t *testing.T) {
	ctx := WithTable(context.Background(), "staff")

	got, err := TableFromContext(ctx)
	if err != nil {
		t.Fatalf("TableFromContext returned error: %v", err)
	}
	if got != "staff" {
		t.Errorf("TableFromContext = %q, want staff", got)
	}
}

// TestTableFromContext_NoTable verifies error when no table in context.
func TestTableFromContext_NoTable(t *testing.T) {
	_, err := TableFromContext(context.Background())
	if err != ErrNoTableInContext {
		t.Errorf("error = %v, want ErrNoTableInContext", err)
	}
}

// TestMustTableFromContext_Panics verifies panic when no table in context.
func TestMustTableFromContext_Panics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustTableFromContext did not panic")
		}
	}()

	MustTableFromContext(context.Background())
}

func TestTableMiddleware(t *testing.T) {
	var seen string
	r := chi.NewRouter()
	r.With(TableMiddleware).Get("/tables/{table}", func(w http.ResponseWriter, r *http.Request) {
		seen = MustTableFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		path       string
		wantStatus int
		wantTable  string
	}{
		{"/tables/tests", http.StatusOK, "tests"},
		{"/tables/users", http.StatusOK, "users"},
		{"/tables/goose_db_version", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			seen = ""
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if seen != tt.wantTable {
				t.Errorf("table = %q, want %q", seen, tt.wantTable)
			}
		})
	}
}
