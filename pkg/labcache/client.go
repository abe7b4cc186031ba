// Package labcache is the offline-first lab data cache used by front ends.
// Reads and writes are served from the local store; mutations are queued and
// replayed against the shared remote store whenever it is reachable.
package labcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/hyperengineering/labsync/internal/connectivity"
	"github.com/hyperengineering/labsync/internal/localstore"
	"github.com/hyperengineering/labsync/internal/queue"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/remote/httpclient"
	"github.com/hyperengineering/labsync/internal/repository"
	"github.com/hyperengineering/labsync/internal/snapshot"
	"github.com/hyperengineering/labsync/internal/sync"
	"github.com/hyperengineering/labsync/internal/types"
	"github.com/hyperengineering/labsync/internal/worker"
)

// ErrClosed is returned by every operation after Shutdown.
var ErrClosed = errors.New("client is closed")

// Default option values.
const (
	DefaultProbeInterval = 10 * time.Second
	DefaultBcryptCost    = 10
)

// Options configures a Client.
type Options struct {
	LocalPath     string        // Local cache database path (Open only)
	RemoteURL     string        // Remote store base URL (Open only); empty means local-only
	APIKey        string        // Bearer key for the remote store (Open only)
	RemoteTimeout time.Duration // Bound on every remote call (default: 15s)
	SyncInterval  time.Duration // Periodic pass interval (default: 30s)
	Debounce      time.Duration // Delay between a mutation and its pass (default: 500ms)
	ProbeInterval time.Duration // Reachability probe interval (default: 10s)
	RetryCeiling  int           // Attempts before an item is dead-lettered (default: 3)
	BcryptCost    int           // Cost for generated login hashes (default: 10)
	DisableProbe  bool          // Leave connectivity to SetOnline
}

func (o *Options) setDefaults() {
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = sync.DefaultRemoteTimeout
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = DefaultProbeInterval
	}
	if o.RetryCeiling <= 0 {
		o.RetryCeiling = queue.DefaultMaxRetries
	}
	if o.BcryptCost <= 0 {
		o.BcryptCost = DefaultBcryptCost
	}
}

// SyncState is a point-in-time view of the sync machinery.
type SyncState struct {
	Online       bool        `json:"online"`
	LocalOnly    bool        `json:"localOnly"`
	Pending      int         `json:"pending"`
	DeadLettered int         `json:"deadLettered"`
	LastPass     sync.Status `json:"lastPass"`
}

// Client owns the local cache, the sync queue and the background workers.
type Client struct {
	opts   Options
	local  localstore.Store
	remote remote.Store
	owned  []func() error

	queue       *queue.Queue
	registry    *repository.Registry
	staff       *repository.StaffDirectory
	tests       *repository.TestCatalog
	monitor     *connectivity.Monitor
	prober      *connectivity.Prober
	engine      *sync.Engine
	coordinator *worker.SyncCoordinator

	mu      gosync.RWMutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      gosync.WaitGroup
}

// New creates a Client over the given stores. r may be nil for local-only
// operation; the queue is still kept so nothing is lost if a remote is
// configured later. The caller keeps ownership of both stores.
func New(local localstore.Store, r remote.Store, opts Options) (*Client, error) {
	if local == nil {
		return nil, errors.New("local store is required")
	}
	opts.setDefaults()

	q, err := queue.New(local, opts.RetryCeiling)
	if err != nil {
		return nil, fmt.Errorf("open sync queue: %w", err)
	}

	c := &Client{
		opts:    opts,
		local:   local,
		remote:  r,
		queue:   q,
		monitor: connectivity.NewMonitor(false),
	}

	c.registry = repository.NewRegistry(local, q, repository.Options{
		Remote:        r,
		Online:        c.monitor.IsOnline,
		RemoteTimeout: opts.RemoteTimeout,
	})
	c.staff = repository.NewStaffDirectory(c.registry, opts.BcryptCost)
	c.tests = repository.NewTestCatalog(c.registry)
	c.engine = sync.NewEngine(q, r, c.registry, c.monitor, opts.RemoteTimeout)

	var watcher remote.Watcher
	if w, ok := r.(remote.Watcher); ok {
		watcher = w
	}
	c.coordinator = worker.NewSyncCoordinator(c.engine, c.registry, c.monitor, watcher, worker.SyncCoordinatorConfig{
		Interval: opts.SyncInterval,
		Debounce: opts.Debounce,
	})
	q.OnEnqueue(func(queue.Item) { c.coordinator.NotifyEnqueued() })

	if p, ok := r.(remote.Pinger); ok && !opts.DisableProbe {
		c.prober = connectivity.NewProber(p, c.monitor, opts.ProbeInterval, opts.RemoteTimeout)
	}
	return c, nil
}

// Open builds the stores from opts and creates a Client that owns them.
func Open(opts Options) (*Client, error) {
	if opts.LocalPath == "" {
		return nil, errors.New("LocalPath is required")
	}
	local, err := localstore.NewSQLiteStore(opts.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	var r remote.Store
	if opts.RemoteURL != "" {
		timeout := opts.RemoteTimeout
		if timeout <= 0 {
			timeout = sync.DefaultRemoteTimeout
		}
		r = httpclient.New(opts.RemoteURL, opts.APIKey, timeout)
	}

	c, err := New(local, r, opts)
	if err != nil {
		local.Close()
		return nil, err
	}
	c.owned = append(c.owned, local.Close)
	return c, nil
}

// Start launches the connectivity prober and the sync coordinator. In
// local-only mode it does nothing. Calling Start twice is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started || c.remote == nil {
		c.started = true
		return nil
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.prober != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.prober.Run(runCtx)
		}()
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.coordinator.Run(runCtx)
	}()

	slog.Info("cache started",
		"component", "labcache",
		"action", "start",
		"pending", c.queue.Len(),
		"probe", c.prober != nil,
	)
	return nil
}

// Shutdown stops the background workers, makes one last attempt to drain
// the queue while online, and closes stores opened by Open. Items that
// cannot be sent stay queued for the next run.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		slog.Warn("shutdown timed out waiting for workers", "component", "labcache")
	}

	if c.remote != nil && c.monitor.IsOnline() && c.queue.Len() > 0 && ctx.Err() == nil {
		if _, err := c.engine.Pass(ctx); err != nil {
			slog.Warn("final sync pass failed",
				"component", "labcache",
				"action", "shutdown",
				"error", err,
			)
		}
	}

	var errs []error
	for _, closeFn := range c.owned {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

// Staff returns the staff directory.
func (c *Client) Staff() *repository.StaffDirectory { return c.staff }

// Tests returns the test catalog.
func (c *Client) Tests() *repository.TestCatalog { return c.tests }

// ListStaff returns staff members and phlebotomists, refreshed from the
// remote when reachable.
func (c *Client) ListStaff(ctx context.Context) ([]types.Staff, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.staff.ListAll(ctx)
}

// CreateStaff adds a staff member and generates their login. The plaintext
// password is only available in the returned Login.
func (c *Client) CreateStaff(input types.Staff) (types.Staff, repository.Login, error) {
	if err := c.checkOpen(); err != nil {
		return types.Staff{}, repository.Login{}, err
	}
	return c.staff.Create(input)
}

// UpdateStaff applies patch to the staff member with the given id.
func (c *Client) UpdateStaff(id string, patch repository.Patch) (types.Staff, error) {
	if err := c.checkOpen(); err != nil {
		return types.Staff{}, err
	}
	return c.staff.Update(id, patch)
}

// DeleteStaff removes a staff member and their login.
func (c *Client) DeleteStaff(id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.staff.Delete(id)
}

// ListTests returns the test catalog, refreshed from the remote when reachable.
func (c *Client) ListTests(ctx context.Context) ([]types.LabTest, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.tests.List(ctx)
}

// CreateTest adds a catalog entry.
func (c *Client) CreateTest(input types.LabTest) (types.LabTest, error) {
	if err := c.checkOpen(); err != nil {
		return types.LabTest{}, err
	}
	return c.tests.Create(input)
}

// UpdateTest applies patch to the catalog entry with the given id.
func (c *Client) UpdateTest(id string, patch repository.Patch) (types.LabTest, error) {
	if err := c.checkOpen(); err != nil {
		return types.LabTest{}, err
	}
	return c.tests.Update(id, patch)
}

// DeleteTest removes a catalog entry.
func (c *Client) DeleteTest(id string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.tests.Delete(id)
}

// IsOnline reports whether the remote is believed reachable.
func (c *Client) IsOnline() bool { return c.monitor.IsOnline() }

// SetOnline feeds an external connectivity signal. A transition to online
// triggers a pass followed by a full refresh once Start has been called.
// It has no effect in local-only mode.
func (c *Client) SetOnline(online bool) {
	if c.remote == nil {
		return
	}
	c.monitor.Set(online)
}

// CheckConnectivity pings the remote once and updates the online state.
// Clients created with DisableProbe, or without a remote, report the
// current state unchanged.
func (c *Client) CheckConnectivity(ctx context.Context) bool {
	if c.prober == nil {
		return c.monitor.IsOnline()
	}
	return c.prober.Probe(ctx)
}

// PendingSyncCount returns the number of queued mutations.
func (c *Client) PendingSyncCount() int { return c.queue.Len() }

// ForceSyncNow runs a pass immediately. A pass already running counts as
// success. Offline and local-only clients get sync.ErrOffline and
// sync.ErrNoRemote.
func (c *Client) ForceSyncNow(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.coordinator.SyncNow(ctx)
	return err
}

// SyncState reports connectivity, queue depth and the last pass.
func (c *Client) SyncState() SyncState {
	return SyncState{
		Online:       c.monitor.IsOnline(),
		LocalOnly:    c.remote == nil,
		Pending:      c.queue.Len(),
		DeadLettered: c.queue.DeadLetterCount(),
		LastPass:     c.engine.Status(),
	}
}

// DeadLetters returns mutations that exhausted their retries.
func (c *Client) DeadLetters() []queue.DeadLetter { return c.queue.DeadLetters() }

// RetryDeadLetters moves every dead letter back onto the queue with a fresh
// retry budget and returns how many were moved.
func (c *Client) RetryDeadLetters() (int, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.queue.RetryDeadLetters()
}

// ClearDeadLetters discards the dead-letter log.
func (c *Client) ClearDeadLetters() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.queue.ClearDeadLetters()
}

// Authenticate checks a username and password against the cached logins.
// It works offline.
func (c *Client) Authenticate(username, password string) (types.Credential, error) {
	if err := c.checkOpen(); err != nil {
		return types.Credential{}, err
	}
	return c.staff.Authenticate(username, password)
}

// LocalBackupName names snapshots of the local cache.
const LocalBackupName = "local"

// Backup writes a consistent copy of the local cache to dir and returns
// its path. Caches not backed by SQLite return snapshot.ErrUnsupported.
func (c *Client) Backup(ctx context.Context, dir string) (string, error) {
	if err := c.checkOpen(); err != nil {
		return "", err
	}
	src, ok := c.local.(snapshot.Source)
	if !ok {
		return "", snapshot.ErrUnsupported
	}
	return snapshot.Take(ctx, src, dir, LocalBackupName)
}
