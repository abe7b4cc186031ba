package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/snapshot"
	"github.com/hyperengineering/labsync/internal/validation"
)

// Handler implements the API handlers
type Handler struct {
	store      remote.Store
	hub        *Hub
	apiKey     string
	version    string
	backups    snapshot.Uploader
	backupName string
	metrics    *Metrics
}

// NewHandler creates a new Handler serving s. hub may be nil, in which
// case the change feed route is not mounted.
func NewHandler(s remote.Store, hub *Hub, apiKey, version string) *Handler {
	return &Handler{
		store:   s,
		hub:     hub,
		apiKey:  apiKey,
		version: version,
		metrics: NewMetrics(hub),
	}
}

// EnableBackups serves the latest uploaded snapshot of name from
// GET /api/v1/backup.
func (h *Handler) EnableBackups(u snapshot.Uploader, name string) {
	h.backups = u
	h.backupName = name
}

// BackupResponse is returned by GET /api/v1/backup.
type BackupResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expiresAt"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Store   string `json:"store"`
	Time    string `json:"time"`
}

// RowsResponse is returned by GET /api/v1/tables/{table}.
type RowsResponse struct {
	Rows []remote.Row `json:"rows"`
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Store:   "ok",
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	if p, ok := h.store.(remote.Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// ListRows handles GET /api/v1/tables/{table}. Each query parameter is an
// equality filter.
func (h *Handler) ListRows(w http.ResponseWriter, r *http.Request) {
	table := MustTableFromContext(r.Context())

	filters, ok := parseFilters(w, r)
	if !ok {
		return
	}

	rows, err := h.store.Select(r.Context(), table, filters...)
	if err != nil {
		MapStoreError(w, r, err)
		return
	}
	if rows == nil {
		rows = []remote.Row{}
	}
	writeJSON(w, http.StatusOK, RowsResponse{Rows: rows})
}

// InsertRow handles POST /api/v1/tables/{table}.
func (h *Handler) InsertRow(w http.ResponseWriter, r *http.Request) {
	table := MustTableFromContext(r.Context())

	row, ok := decodeRow(w, r)
	if !ok {
		return
	}
	id, _ := row["id"].(string)
	if verr := validation.ValidateID("id", id); verr != nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{*verr})
		return
	}

	if err := h.store.Insert(r.Context(), table, row); err != nil {
		MapStoreError(w, r, err)
		return
	}
	h.publish(table, "insert", id)
	writeJSON(w, http.StatusCreated, row)
}

// UpdateRow handles PATCH /api/v1/tables/{table}/{id}.
func (h *Handler) UpdateRow(w http.ResponseWriter, r *http.Request) {
	table := MustTableFromContext(r.Context())
	id := chi.URLParam(r, "id")

	patch, ok := decodeRow(w, r)
	if !ok {
		return
	}
	delete(patch, "id")

	if err := h.store.Update(r.Context(), table, id, patch); err != nil {
		MapStoreError(w, r, err)
		return
	}
	h.publish(table, "update", id)
	w.WriteHeader(http.StatusNoContent)
}

// DeleteRows handles DELETE /api/v1/tables/{table}?column=value. Exactly
// one filter is required.
func (h *Handler) DeleteRows(w http.ResponseWriter, r *http.Request) {
	table := MustTableFromContext(r.Context())

	filters, ok := parseFilters(w, r)
	if !ok {
		return
	}
	if len(filters) != 1 {
		WriteProblem(w, r, http.StatusBadRequest, "Delete requires exactly one column filter")
		return
	}

	if err := h.store.Delete(r.Context(), table, filters[0]); err != nil {
		MapStoreError(w, r, err)
		return
	}
	id := ""
	if filters[0].Column == "id" {
		id = fmt.Sprint(filters[0].Value)
	}
	h.publish(table, "delete", id)
	w.WriteHeader(http.StatusNoContent)
}

// LatestBackup returns a pre-signed download URL for the latest backup.
func (h *Handler) LatestBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		WriteProblem(w, r, http.StatusNotFound, "Backups are not enabled on this server")
		return
	}
	u, expiry, err := h.backups.PresignedURL(r.Context(), h.backupName)
	if errors.Is(err, snapshot.ErrNotConfigured) {
		WriteProblem(w, r, http.StatusNotFound, "No backup storage is configured")
		return
	}
	if err != nil {
		slog.Error("presign backup failed",
			"component", "api",
			"action", "backup_presign_failed",
			"error", err,
		)
		WriteProblem(w, r, http.StatusBadGateway, "Backup storage is unavailable")
		return
	}
	writeJSON(w, http.StatusOK, BackupResponse{
		URL:       u,
		ExpiresAt: expiry.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) publish(table, op, id string) {
	h.metrics.recordWrite(table, op)
	if h.hub != nil {
		h.hub.Publish(remote.Change{Table: table, Operation: op, ID: id})
	}
}

func parseFilters(w http.ResponseWriter, r *http.Request) ([]remote.Filter, bool) {
	q := r.URL.Query()
	filters := make([]remote.Filter, 0, len(q))
	for col, vals := range q {
		if err := remote.CheckColumn(col); err != nil {
			MapStoreError(w, r, err)
			return nil, false
		}
		if len(vals) != 1 {
			WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Filter %q given more than once", col))
			return nil, false
		}
		filters = append(filters, remote.Eq(col, vals[0]))
	}
	return filters, true
}

func decodeRow(w http.ResponseWriter, r *http.Request) (remote.Row, bool) {
	var row remote.Row
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&row); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return nil, false
	}
	for col := range row {
		if err := remote.CheckColumn(col); err != nil {
			MapStoreError(w, r, err)
			return nil, false
		}
	}
	return row, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
