// Package queue implements the durable ordered log of local mutations
// awaiting replay against the remote store.
//
// The queue is persisted to the local store on every change. Items that
// fail DefaultMaxRetries times are moved to a dead-letter log instead of
// being silently discarded.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hyperengineering/labsync/internal/localstore"
	"github.com/oklog/ulid/v2"
)

// Storage keys used in the local store.
const (
	QueueKey      = "sync_queue"
	DeadLetterKey = "sync_dead_letters"
)

// DefaultMaxRetries is the retry ceiling: the number of failed attempts
// after which an item leaves the queue.
const DefaultMaxRetries = 3

// Operation is the kind of mutation an item replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// ErrInvalidItem is returned by Enqueue for items missing table or operation.
var ErrInvalidItem = errors.New("invalid queue item")

// Item is one pending mutation.
type Item struct {
	ID        string          `json:"id"`
	Table     string          `json:"table"`
	Operation Operation       `json:"operation"`
	EntityID  string          `json:"entityId"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"` // enqueue time, for observability only
	Retries   int             `json:"retries"`
	LastError string          `json:"lastError,omitempty"`
}

// DeletePayload is the Data of a delete item: the remote column and value
// identifying the rows to remove, plus the hard-delete marker.
type DeletePayload struct {
	Key        string `json:"key"`
	Value      string `json:"value"`
	HardDelete bool   `json:"hardDelete"`
}

// Failure records one failed attempt during a sync pass.
type Failure struct {
	ItemID string
	Err    error
}

// EntityRef identifies the record an item mutates.
type EntityRef struct {
	Table    string
	EntityID string
}

// Ref returns the record the item mutates.
func (it Item) Ref() EntityRef {
	return EntityRef{Table: it.Table, EntityID: it.EntityID}
}

// DeadLetter is an item that exhausted its retries.
type DeadLetter struct {
	Item        Item      `json:"item"`
	Reason      string    `json:"reason"`
	DiscardedAt time.Time `json:"discardedAt"`
}

// Queue is safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	store      localstore.Store
	maxRetries int
	items      []Item
	dead       []DeadLetter
	listeners  []func(Item)
	now        func() time.Time
}

// New loads the queue and dead-letter log from store.
// A maxRetries below 1 selects DefaultMaxRetries.
func New(store localstore.Store, maxRetries int) (*Queue, error) {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	q := &Queue{
		store:      store,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if err := load(store, QueueKey, &q.items); err != nil {
		return nil, err
	}
	if err := load(store, DeadLetterKey, &q.dead); err != nil {
		return nil, err
	}
	return q, nil
}

func load(store localstore.Store, key string, v any) error {
	raw, ok, err := store.Get(key)
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if !ok || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		// A corrupt log must not brick the client; start empty and say so.
		slog.Error("discarding unreadable local log",
			"key", key,
			"error", err,
			"component", "queue",
		)
	}
	return nil
}

// MaxRetries returns the retry ceiling.
func (q *Queue) MaxRetries() int { return q.maxRetries }

// OnEnqueue registers fn to be called after every successful Enqueue.
// fn runs synchronously on the enqueuing goroutine and must not block.
func (q *Queue) OnEnqueue(fn func(Item)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

// Enqueue appends item with a fresh id, timestamp and zero retries,
// persisting the queue before returning.
func (q *Queue) Enqueue(item Item) (Item, error) {
	if item.Table == "" || item.Operation == "" {
		return Item{}, fmt.Errorf("%w: table and operation are required", ErrInvalidItem)
	}

	q.mu.Lock()
	item.ID = "sq_" + strings.ToLower(ulid.Make().String())
	item.Timestamp = q.now()
	item.Retries = 0
	item.LastError = ""

	q.items = append(q.items, item)
	if err := q.persistLocked(); err != nil {
		q.items = q.items[:len(q.items)-1]
		q.mu.Unlock()
		return Item{}, err
	}
	listeners := append([]func(Item){}, q.listeners...)
	q.mu.Unlock()

	slog.Debug("mutation enqueued",
		"table", item.Table,
		"operation", item.Operation,
		"entity_id", item.EntityID,
		"component", "queue",
	)

	for _, fn := range listeners {
		fn(item)
	}
	return item, nil
}

// Snapshot returns a copy of the queue in insertion order.
func (q *Queue) Snapshot() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// HasPending reports whether any queued item targets entityID in table.
func (q *Queue) HasPending(table, entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Table == table && it.EntityID == entityID {
			return true
		}
	}
	return false
}

// PendingDeletes returns the entity ids of table with a queued delete.
func (q *Queue) PendingDeletes(table string) map[string]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make(map[string]bool)
	for _, it := range q.items {
		if it.Table == table && it.Operation == OpDelete {
			ids[it.EntityID] = true
		}
	}
	return ids
}

// DequeueProcessed removes the items with the given ids.
func (q *Queue) DequeueProcessed(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	done := make(map[string]bool, len(ids))
	for _, id := range ids {
		done[id] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0:0]
	for _, it := range q.items {
		if !done[it.ID] {
			kept = append(kept, it)
		}
	}
	q.items = kept
	return q.persistLocked()
}

// RequeueFailed increments the retry count of each failed item in place.
// Items reaching the retry ceiling are removed from the queue, logged, and
// appended to the dead-letter log, which is returned.
// Items enqueued after the pass began are untouched.
func (q *Queue) RequeueFailed(failures []Failure) ([]DeadLetter, error) {
	if len(failures) == 0 {
		return nil, nil
	}
	failed := make(map[string]error, len(failures))
	for _, f := range failures {
		failed[f.ItemID] = f.Err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	var discarded []DeadLetter
	kept := q.items[:0:0]
	for _, it := range q.items {
		err, ok := failed[it.ID]
		if !ok {
			kept = append(kept, it)
			continue
		}
		it.Retries++
		if err != nil {
			it.LastError = err.Error()
		}
		if it.Retries < q.maxRetries {
			kept = append(kept, it)
			continue
		}

		dl := DeadLetter{Item: it, Reason: it.LastError, DiscardedAt: q.now()}
		discarded = append(discarded, dl)
		slog.Error("sync item exceeded retry ceiling",
			"action", "dead_letter",
			"table", it.Table,
			"operation", it.Operation,
			"entity_id", it.EntityID,
			"attempts", it.Retries,
			"error", it.LastError,
			"component", "queue",
		)
	}

	q.items = kept
	if len(discarded) > 0 {
		q.dead = append(q.dead, discarded...)
		if err := q.persistDeadLocked(); err != nil {
			return discarded, err
		}
	}
	return discarded, q.persistLocked()
}

// DeadLetters returns a copy of the dead-letter log, oldest first.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// DeadLetterRefs returns the records that have at least one dead-lettered
// item. Later items for those records must wait until the dead letters are
// retried or cleared.
func (q *Queue) DeadLetterRefs() map[EntityRef]bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	refs := make(map[EntityRef]bool, len(q.dead))
	for _, dl := range q.dead {
		refs[dl.Item.Ref()] = true
	}
	return refs
}

// HasDeadLetter reports whether a dead-lettered item exists for the record.
func (q *Queue) HasDeadLetter(table, entityID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, dl := range q.dead {
		if dl.Item.Table == table && dl.Item.EntityID == entityID {
			return true
		}
	}
	return false
}

// DeadLetterCount returns the size of the dead-letter log.
func (q *Queue) DeadLetterCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dead)
}

// RetryDeadLetters moves every dead letter back to the front of the queue
// with its retry count reset, returning how many were requeued. Later items
// for the same records stay behind them.
func (q *Queue) RetryDeadLetters() (int, error) {
	q.mu.Lock()
	if len(q.dead) == 0 {
		q.mu.Unlock()
		return 0, nil
	}
	prevItems, prevDead := q.items, q.dead
	revived := make([]Item, 0, len(q.dead))
	for _, dl := range q.dead {
		it := dl.Item
		it.Retries = 0
		it.LastError = ""
		revived = append(revived, it)
	}
	q.items = append(revived, q.items...)
	q.dead = nil
	if err := q.persistLocked(); err != nil {
		q.items, q.dead = prevItems, prevDead
		q.mu.Unlock()
		return 0, err
	}
	if err := q.persistDeadLocked(); err != nil {
		q.mu.Unlock()
		return 0, err
	}
	listeners := append([]func(Item){}, q.listeners...)
	q.mu.Unlock()

	for _, it := range revived {
		for _, fn := range listeners {
			fn(it)
		}
	}
	return len(revived), nil
}

// ClearDeadLetters empties the dead-letter log.
func (q *Queue) ClearDeadLetters() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = nil
	return q.persistDeadLocked()
}

func (q *Queue) persistLocked() error {
	return persist(q.store, QueueKey, q.items)
}

func (q *Queue) persistDeadLocked() error {
	return persist(q.store, DeadLetterKey, q.dead)
}

func persist(store localstore.Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := store.Set(key, string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", key, err)
	}
	return nil
}
