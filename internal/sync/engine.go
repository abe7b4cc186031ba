// Package sync replays the local mutation queue against the remote store.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/hyperengineering/labsync/internal/queue"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/types"
)

// DefaultRemoteTimeout bounds each remote call of a pass.
const DefaultRemoteTimeout = 15 * time.Second

var (
	// ErrOffline is returned by Pass while the connectivity monitor reports offline.
	ErrOffline = errors.New("offline")
	// ErrPassInProgress is returned by Pass when another pass is running.
	ErrPassInProgress = errors.New("sync pass already in progress")
	// ErrNoRemote is returned by Pass in local-only mode.
	ErrNoRemote = errors.New("no remote store configured")
)

// Translator maps queued payloads to remote rows and records sync results
// in the local cache.
type Translator interface {
	RemoteRow(table string, data json.RawMessage) (remote.Row, error)
	MarkSynced(table string, ids []string) error
}

// Connectivity reports whether the remote is believed reachable.
type Connectivity interface {
	IsOnline() bool
}

// PassResult summarizes one pass.
type PassResult struct {
	Attempted    int           `json:"attempted"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	DeadLettered int           `json:"deadLettered"`
	Deferred     int           `json:"deferred"`
	Duration     time.Duration `json:"duration"`
}

// Status is the outcome of the most recent completed pass.
type Status struct {
	LastPassAt time.Time  `json:"lastPassAt,omitempty"`
	LastResult PassResult `json:"lastResult"`
	LastError  string     `json:"lastError,omitempty"`
	Running    bool       `json:"running"`
}

// Engine drains the queue one item at a time. At most one pass runs at once.
type Engine struct {
	queue      *queue.Queue
	remote     remote.Store
	translator Translator
	conn       Connectivity
	timeout    time.Duration

	running atomic.Bool

	mu     gosync.Mutex
	status Status
}

// NewEngine creates an Engine. remote may be nil for local-only mode, in
// which case every pass returns ErrNoRemote.
func NewEngine(q *queue.Queue, r remote.Store, t Translator, conn Connectivity, timeout time.Duration) *Engine {
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}
	return &Engine{
		queue:      q,
		remote:     r,
		translator: t,
		conn:       conn,
		timeout:    timeout,
	}
}

// Status returns the outcome of the last completed pass.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.status
	s.Running = e.running.Load()
	return s
}

// Pass replays a snapshot of the queue in order. Succeeded items are
// dequeued and their records marked synced; failed items have their retry
// count raised and leave for the dead-letter log at the ceiling. Items
// enqueued during the pass wait for the next one.
//
// Once an item for a record fails, or while the record has a dead letter,
// later items for that record are deferred untouched so they never apply
// ahead of the mutation they follow.
//
// Cancelling ctx stops the pass; unprocessed items are left untouched.
func (e *Engine) Pass(ctx context.Context) (PassResult, error) {
	if e.remote == nil {
		return PassResult{}, ErrNoRemote
	}
	if !e.conn.IsOnline() {
		return PassResult{}, ErrOffline
	}
	if !e.running.CompareAndSwap(false, true) {
		return PassResult{}, ErrPassInProgress
	}
	defer e.running.Store(false)

	start := time.Now()
	items := e.queue.Snapshot()

	var (
		succeeded []string
		failures  []queue.Failure
		synced    = make(map[string][]string)
		blocked   = e.queue.DeadLetterRefs()
		deferred  int
	)
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		if blocked[it.Ref()] {
			deferred++
			continue
		}
		if err := e.process(ctx, it); err != nil {
			if ctx.Err() != nil {
				// Interrupted, not failed.
				break
			}
			blocked[it.Ref()] = true
			failures = append(failures, queue.Failure{ItemID: it.ID, Err: err})
			slog.Warn("sync item failed",
				"action", "replay",
				"table", it.Table,
				"operation", it.Operation,
				"entity_id", it.EntityID,
				"attempt", it.Retries+1,
				"error", err,
				"component", "sync",
			)
			continue
		}
		succeeded = append(succeeded, it.ID)
		if it.Operation != queue.OpDelete {
			synced[it.Table] = append(synced[it.Table], it.EntityID)
		}
	}

	result := PassResult{
		Attempted: len(succeeded) + len(failures),
		Succeeded: len(succeeded),
		Failed:    len(failures),
		Deferred:  deferred,
	}

	var errs []error
	if err := e.queue.DequeueProcessed(succeeded); err != nil {
		errs = append(errs, err)
	}
	dead, err := e.queue.RequeueFailed(failures)
	if err != nil {
		errs = append(errs, err)
	}
	result.DeadLettered = len(dead)
	for table, ids := range synced {
		if err := e.translator.MarkSynced(table, ids); err != nil {
			errs = append(errs, fmt.Errorf("mark %s synced: %w", table, err))
		}
	}
	result.Duration = time.Since(start)
	passErr := errors.Join(errs...)

	e.record(result, passErr)
	if result.Attempted > 0 || result.Deferred > 0 {
		slog.Info("sync pass completed",
			"action", "pass_complete",
			"attempted", result.Attempted,
			"succeeded", result.Succeeded,
			"failed", result.Failed,
			"dead_lettered", result.DeadLettered,
			"deferred", result.Deferred,
			"duration_ms", result.Duration.Milliseconds(),
			"component", "sync",
		)
	}
	return result, passErr
}

func (e *Engine) record(result PassResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.LastPassAt = time.Now().UTC()
	e.status.LastResult = result
	e.status.LastError = ""
	if err != nil {
		e.status.LastError = err.Error()
	}
}

// strictCreateTables lists tables whose natural keys are not interchangeable:
// a login clashing on username with another client's login is a different
// record, so only an id match counts as already applied.
var strictCreateTables = map[string]bool{
	types.TableUsers: true,
}

// checkSameRecord resolves a unique violation on a strict create. It
// succeeds when the remote already holds the item's id and otherwise returns
// the violation so the item retries and ends in the dead-letter log.
func (e *Engine) checkSameRecord(ctx context.Context, it queue.Item, violation error) error {
	rows, err := e.remote.Select(ctx, it.Table, remote.Eq("id", it.EntityID))
	if err != nil {
		return fmt.Errorf("%w (lookup failed: %v)", violation, err)
	}
	if len(rows) == 0 {
		return violation
	}
	slog.Info("create already present remotely",
		"action", "replay",
		"table", it.Table,
		"entity_id", it.EntityID,
		"component", "sync",
	)
	return nil
}

// process replays one item with its own timeout.
func (e *Engine) process(ctx context.Context, it queue.Item) error {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch it.Operation {
	case queue.OpCreate:
		row, err := e.translator.RemoteRow(it.Table, it.Data)
		if err != nil {
			return err
		}
		err = e.remote.Insert(callCtx, it.Table, row)
		if !remote.IsUniqueViolation(err) {
			return err
		}
		if strictCreateTables[it.Table] {
			return e.checkSameRecord(callCtx, it, err)
		}
		// Already applied by an earlier attempt or another client.
		slog.Info("create already present remotely",
			"action", "replay",
			"table", it.Table,
			"entity_id", it.EntityID,
			"component", "sync",
		)
		return nil

	case queue.OpUpdate:
		row, err := e.translator.RemoteRow(it.Table, it.Data)
		if err != nil {
			return err
		}
		delete(row, "id")
		delete(row, "created_at")
		return e.remote.Update(callCtx, it.Table, it.EntityID, row)

	case queue.OpDelete:
		var p queue.DeletePayload
		if err := json.Unmarshal(it.Data, &p); err != nil {
			return fmt.Errorf("decode delete payload: %w", err)
		}
		if !p.HardDelete {
			slog.Debug("dropping delete without hard-delete marker",
				"table", it.Table,
				"entity_id", it.EntityID,
				"component", "sync",
			)
			return nil
		}
		if p.Key == "" {
			p.Key, p.Value = "id", it.EntityID
		}
		return e.remote.Delete(callCtx, it.Table, remote.Eq(p.Key, p.Value))

	default:
		return fmt.Errorf("unknown operation %q", it.Operation)
	}
}
