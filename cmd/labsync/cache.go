package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hyperengineering/labsync/internal/repository"
	"github.com/hyperengineering/labsync/pkg/labcache"
)

// openCache opens the local cache described by cfg and, when a remote is
// configured, probes it once so reads can refresh and Shutdown can flush
// queued writes.
func openCache(ctx context.Context) (*labcache.Client, error) {
	c, err := labcache.Open(labcache.Options{
		LocalPath:     cfg.Client.LocalPath,
		RemoteURL:     cfg.Client.RemoteURL,
		APIKey:        cfg.Auth.APIKey,
		RemoteTimeout: cfg.Sync.RemoteTimeout.Std(),
		SyncInterval:  cfg.Sync.Interval.Std(),
		Debounce:      cfg.Sync.Debounce.Std(),
		ProbeInterval: cfg.Sync.ProbeInterval.Std(),
		RetryCeiling:  cfg.Sync.RetryCeiling,
		BcryptCost:    cfg.Client.BcryptCost,
	})
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if !cfg.LocalOnly() {
		c.CheckConnectivity(ctx)
	}
	return c, nil
}

// closeCache shuts the client down within the configured remote timeout.
func closeCache(c *labcache.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.RemoteTimeout.Std())
	defer cancel()
	return c.Shutdown(ctx)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// parsePatch turns key=value pairs into a Patch. Values that parse as JSON
// (numbers, booleans, quoted strings) keep their type; anything else is a
// plain string.
func parsePatch(pairs []string) (repository.Patch, error) {
	patch := make(repository.Patch, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: want key=value", p)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		patch[key] = v
	}
	if len(patch) == 0 {
		return nil, fmt.Errorf("nothing to update: pass at least one --set key=value")
	}
	return patch, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
