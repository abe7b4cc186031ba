package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperengineering/labsync/internal/api"
	"github.com/hyperengineering/labsync/internal/remote/sqlstore"
	"github.com/hyperengineering/labsync/pkg/labcache"
)

const testAPIKey = "e2e-key"

// server is a labsync API backed by a SQLite remote store.
type server struct {
	store   *sqlstore.Store
	handler http.Handler
}

func startServer(t *testing.T) *server {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	store, err := sqlstore.OpenSQLite(ctx, filepath.Join(t.TempDir(), "remote.db"))
	if err != nil {
		cancel()
		t.Fatalf("OpenSQLite() error = %v", err)
	}

	hub := api.NewHub()
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		store.Close()
	})

	return &server{
		store:   store,
		handler: api.NewRouter(api.NewHandler(store, hub, testAPIKey, "e2e")),
	}
}

// link is one client's network path to the server. Taking it down makes
// every request fail with 503; rejecting writes fails only mutations.
type link struct {
	srv          *httptest.Server
	down         atomic.Bool
	rejectWrites atomic.Bool
}

func (s *server) newLink(t *testing.T) *link {
	t.Helper()
	l := &link{}
	l.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.down.Load() {
			http.Error(w, "link down", http.StatusServiceUnavailable)
			return
		}
		if l.rejectWrites.Load() && r.Method != http.MethodGet {
			http.Error(w, "write rejected", http.StatusInternalServerError)
			return
		}
		s.handler.ServeHTTP(w, r)
	}))
	t.Cleanup(l.srv.Close)
	return l
}

// newClient opens a started cache client that talks to the server over
// its own link.
func (s *server) newClient(t *testing.T) (*labcache.Client, *link) {
	t.Helper()
	l := s.newLink(t)

	c, err := labcache.Open(labcache.Options{
		LocalPath:     filepath.Join(t.TempDir(), "local.db"),
		RemoteURL:     l.srv.URL,
		APIKey:        testAPIKey,
		RemoteTimeout: 2 * time.Second,
		SyncInterval:  time.Hour,
		Debounce:      20 * time.Millisecond,
		ProbeInterval: 50 * time.Millisecond,
		BcryptCost:    4,
	})
	if err != nil {
		t.Fatalf("labcache.Open() error = %v", err)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Shutdown(ctx)
	})

	eventually(t, "client online", c.IsOnline)
	return c, l
}

// eventually polls cond until it holds or five seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
