// Package repository implements the local-first entity collections.
//
// Every collection is a JSON array in the local store. Mutations are
// applied locally, then recorded in the sync queue; reads refresh from the
// remote store when online and fall back to the cache otherwise. A single
// writer lock held by the Registry serializes all local store and queue
// mutations across collections.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hyperengineering/labsync/internal/localstore"
	"github.com/hyperengineering/labsync/internal/queue"
	"github.com/hyperengineering/labsync/internal/remote"
)

// DefaultRemoteTimeout bounds each remote call made during a refresh.
const DefaultRemoteTimeout = 15 * time.Second

// collectionKeyPrefix prefixes the local store key of every collection.
const collectionKeyPrefix = "collection:"

// table is the non-generic view of a Collection used by the Registry.
type table interface {
	Table() string
	RemoteRow(data json.RawMessage) (remote.Row, error)
	MarkSynced(ids []string) error
	Refresh(ctx context.Context) error
	hasKey(field, value string, excludeID string) (bool, error)
}

// Options configures a Registry.
type Options struct {
	// Remote is the shared store reads refresh from. Nil means local-only.
	Remote remote.Store
	// Online reports connectivity. Nil means always offline.
	Online func() bool
	// RemoteTimeout bounds each remote call. Zero selects DefaultRemoteTimeout.
	RemoteTimeout time.Duration
}

// Registry owns the writer lock and maps table names to collections.
type Registry struct {
	mu sync.Mutex // writer lock; acquire before the queue's lock
	// syncGen counts MarkSynced calls that changed a record. Guarded by mu.
	syncGen uint64

	local   localstore.Store
	queue   *queue.Queue
	remote  remote.Store
	online  func() bool
	timeout time.Duration
	now     func() time.Time

	tablesMu sync.RWMutex
	tables   map[string]table
}

// NewRegistry creates an empty Registry over local and q.
func NewRegistry(local localstore.Store, q *queue.Queue, opts Options) *Registry {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Online == nil {
		opts.Online = func() bool { return false }
	}
	return &Registry{
		local:   local,
		queue:   q,
		remote:  opts.Remote,
		online:  opts.Online,
		timeout: opts.RemoteTimeout,
		now:     func() time.Time { return time.Now().UTC() },
		tables:  make(map[string]table),
	}
}

func (r *Registry) syncGeneration() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncGen
}

// Queue returns the sync queue mutations are recorded in.
func (r *Registry) Queue() *queue.Queue { return r.queue }

func (r *Registry) register(t table) {
	r.tablesMu.Lock()
	defer r.tablesMu.Unlock()
	r.tables[t.Table()] = t
}

func (r *Registry) lookup(name string) (table, error) {
	r.tablesMu.RLock()
	defer r.tablesMu.RUnlock()
	t, ok := r.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Tables returns the registered table names, sorted.
func (r *Registry) Tables() []string {
	r.tablesMu.RLock()
	defer r.tablesMu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RemoteRow translates the queued create/update payload of table into its
// remote row shape.
func (r *Registry) RemoteRow(tableName string, data json.RawMessage) (remote.Row, error) {
	t, err := r.lookup(tableName)
	if err != nil {
		return nil, err
	}
	return t.RemoteRow(data)
}

// MarkSynced flips the given records of table to synced, skipping any that
// still have queued mutations.
func (r *Registry) MarkSynced(tableName string, ids []string) error {
	t, err := r.lookup(tableName)
	if err != nil {
		return err
	}
	return t.MarkSynced(ids)
}

// RefreshTable re-reads one table from the remote store.
func (r *Registry) RefreshTable(ctx context.Context, tableName string) error {
	t, err := r.lookup(tableName)
	if err != nil {
		return err
	}
	return t.Refresh(ctx)
}

// RefreshAll re-reads every table, returning the joined errors.
func (r *Registry) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, name := range r.Tables() {
		if err := r.RefreshTable(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// canReachRemote reports whether reads should try the remote store.
func (r *Registry) canReachRemote() bool {
	return r.remote != nil && r.online()
}

func logRefreshFallback(tableName string, err error) {
	slog.Warn("remote refresh failed, serving cached records",
		"table", tableName,
		"error", err,
		"component", "repository",
	)
}
