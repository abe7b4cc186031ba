package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/types"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /metrics status = %d", w.Code)
	}
	body, _ := io.ReadAll(w.Body)
	return string(body)
}

func TestMetrics_RecordsRequestsAndWrites(t *testing.T) {
	// Given a router with a change hub
	h := NewHandler(remote.NewMemoryStore(), NewHub(), testAPIKey, "1.0.0")
	router := NewRouter(h)

	// When a row is inserted and listed, and an unknown path is hit
	id := types.NewID("stf")
	if w := doRequest(t, router, http.MethodPost, "/api/v1/tables/staff", staffRow(id, "9876543210")); w.Code != http.StatusCreated {
		t.Fatalf("insert status = %d", w.Code)
	}
	doRequest(t, router, http.MethodGet, "/api/v1/tables/staff", nil)
	doRequest(t, router, http.MethodGet, "/nope", nil)

	// Then the scrape carries route-pattern labels, not raw paths
	out := scrape(t, router)
	if !hasSample(out, `method="POST"`, `route="/api/v1/tables/{table}`, `status="201"`) {
		t.Error("no POST sample labelled with the table route pattern")
	}
	if !hasSample(out, `method="GET"`, `route="unmatched"`, `status="404"`) {
		t.Error("no sample for the unmatched path")
	}
	if strings.Contains(out, `route="/api/v1/tables/staff`) {
		t.Error("raw path used as a route label")
	}
	for _, want := range []string{
		`labsync_rows_written_total{operation="insert",table="staff"} 1`,
		`labsync_change_subscribers 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

// hasSample reports whether a labsync_http_requests_total line carries
// every label fragment.
func hasSample(out string, fragments ...string) bool {
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "labsync_http_requests_total{") {
			continue
		}
		all := true
		for _, f := range fragments {
			if !strings.Contains(line, f) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

func TestMetrics_EndpointIsPublic(t *testing.T) {
	router, _ := newTestRouter(t)
	out := scrape(t, router)
	if !strings.Contains(out, "go_goroutines") {
		t.Error("metrics missing Go runtime collector")
	}
	if strings.Contains(out, "labsync_change_subscribers") {
		t.Error("subscriber gauge registered without a hub")
	}
}
