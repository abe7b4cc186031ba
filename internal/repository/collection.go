package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hyperengineering/labsync/internal/queue"
	"github.com/hyperengineering/labsync/internal/remote"
	"github.com/hyperengineering/labsync/internal/types"
	"github.com/hyperengineering/labsync/internal/validation"
)

// Record is satisfied by pointers to entity types embedding types.Meta.
type Record[T any] interface {
	*T
	Base() *types.Meta
}

// NaturalKey is a field that must be unique within a uniqueness scope.
// Empty values never conflict.
type NaturalKey[T any] struct {
	Field    string // JSON name, reported in DuplicateKeyError
	Value    func(*T) string
	FoldCase bool
}

// Schema binds an entity type to its table.
type Schema[T any] struct {
	Table  string
	Prefix string // id prefix
	Keys   []NaturalKey[T]
	// Immutable lists JSON fields a Patch may not change, besides the
	// metadata fields.
	Immutable []string
	Normalize func(*T)
	Validate  func(*T) []validation.ValidationError
	ToRow     func(*T) remote.Row
	FromRow   func(remote.Row) T
}

// Patch is a partial update keyed by JSON field name.
type Patch map[string]any

var metaFields = []string{"id", "createdAt", "updatedAt", "syncStatus"}

// Collection is a local-first collection of one table.
type Collection[T any, P Record[T]] struct {
	reg    *Registry
	schema Schema[T]
	scope  []table
}

// NewCollection creates the collection for schema and registers it.
func NewCollection[T any, P Record[T]](reg *Registry, schema Schema[T]) *Collection[T, P] {
	c := &Collection[T, P]{reg: reg, schema: schema}
	c.scope = []table{c}
	reg.register(c)
	return c
}

// shareScope makes the natural keys of every collection unique across all of them.
func shareScope(members ...table) {
	for _, m := range members {
		if c, ok := m.(interface{ setScope([]table) }); ok {
			c.setScope(members)
		}
	}
}

func (c *Collection[T, P]) setScope(members []table) {
	c.scope = append([]table(nil), members...)
}

// Table returns the table name.
func (c *Collection[T, P]) Table() string { return c.schema.Table }

func (c *Collection[T, P]) key() string { return collectionKeyPrefix + c.schema.Table }

func (c *Collection[T, P]) load() ([]T, error) {
	raw, ok, err := c.reg.local.Get(c.key())
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.schema.Table, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var records []T
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.schema.Table, err)
	}
	return records, nil
}

func (c *Collection[T, P]) save(records []T) error {
	if records == nil {
		records = []T{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.schema.Table, err)
	}
	if err := c.reg.local.Set(c.key(), string(data)); err != nil {
		return fmt.Errorf("persist %s: %w", c.schema.Table, err)
	}
	return nil
}

func indexOf[T any, P Record[T]](records []T, id string) int {
	for i := range records {
		if P(&records[i]).Base().ID == id {
			return i
		}
	}
	return -1
}

func (c *Collection[T, P]) validate(rec *T) error {
	if c.schema.Validate == nil {
		return nil
	}
	if errs := c.schema.Validate(rec); len(errs) > 0 {
		return &ValidationError{Table: c.schema.Table, Fields: errs}
	}
	return nil
}

func keyEqual(a, b string, fold bool) bool {
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// hasKey reports whether a record other than excludeID holds value in field.
func (c *Collection[T, P]) hasKey(field, value, excludeID string) (bool, error) {
	var key *NaturalKey[T]
	for i := range c.schema.Keys {
		if c.schema.Keys[i].Field == field {
			key = &c.schema.Keys[i]
		}
	}
	if key == nil {
		return false, nil
	}
	records, err := c.load()
	if err != nil {
		return false, err
	}
	for i := range records {
		if P(&records[i]).Base().ID == excludeID {
			continue
		}
		if v := key.Value(&records[i]); v != "" && keyEqual(v, value, key.FoldCase) {
			return true, nil
		}
	}
	return false, nil
}

// checkUniqueLocked enforces every natural key of rec across the scope.
func (c *Collection[T, P]) checkUniqueLocked(rec *T, excludeID string) error {
	for _, k := range c.schema.Keys {
		value := k.Value(rec)
		if value == "" {
			continue
		}
		for _, member := range c.scope {
			taken, err := member.hasKey(k.Field, value, excludeID)
			if err != nil {
				return err
			}
			if taken {
				return &DuplicateKeyError{Table: c.schema.Table, Field: k.Field, Value: value}
			}
		}
	}
	return nil
}

// Create validates input, enforces natural-key uniqueness, stamps it and
// records a create in the sync queue. Any id or metadata on input is replaced.
func (c *Collection[T, P]) Create(input T) (T, error) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.createLocked(input)
}

func (c *Collection[T, P]) createLocked(input T) (T, error) {
	var zero T
	rec := input
	if c.schema.Normalize != nil {
		c.schema.Normalize(&rec)
	}
	if err := c.validate(&rec); err != nil {
		return zero, err
	}
	if err := c.checkUniqueLocked(&rec, ""); err != nil {
		return zero, err
	}

	now := c.reg.now()
	m := P(&rec).Base()
	m.ID = types.NewID(c.schema.Prefix)
	m.CreatedAt = now
	m.UpdatedAt = now
	m.SyncStatus = types.SyncPending

	records, err := c.load()
	if err != nil {
		return zero, err
	}
	if err := c.save(append(records, rec)); err != nil {
		return zero, err
	}
	if err := c.enqueueLocked(queue.OpCreate, m.ID, &rec, records); err != nil {
		return zero, err
	}
	return rec, nil
}

// enqueueLocked records a create or update of rec, restoring prev in the
// local store when the queue cannot persist.
func (c *Collection[T, P]) enqueueLocked(op queue.Operation, id string, rec *T, prev []T) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", c.schema.Table, op, err)
	}
	_, err = c.reg.queue.Enqueue(queue.Item{
		Table:     c.schema.Table,
		Operation: op,
		EntityID:  id,
		Data:      data,
	})
	if err != nil {
		c.rollback(prev)
		return fmt.Errorf("enqueue %s %s: %w", c.schema.Table, op, err)
	}
	return nil
}

func (c *Collection[T, P]) rollback(prev []T) {
	if err := c.save(prev); err != nil {
		slog.Error("failed to roll back local write",
			"table", c.schema.Table,
			"error", err,
			"component", "repository",
		)
	}
}

// Update merges patch over the record with id, re-validates it, re-checks
// uniqueness and records an update in the sync queue.
func (c *Collection[T, P]) Update(id string, patch Patch) (T, error) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.updateLocked(id, patch)
}

func (c *Collection[T, P]) updateLocked(id string, patch Patch) (T, error) {
	var zero T
	records, err := c.load()
	if err != nil {
		return zero, err
	}
	i := indexOf[T, P](records, id)
	if i < 0 {
		return zero, &NotFoundError{Table: c.schema.Table, ID: id}
	}

	rec, err := c.applyPatch(records[i], patch)
	if err != nil {
		return zero, err
	}
	if c.schema.Normalize != nil {
		c.schema.Normalize(&rec)
	}
	if err := c.validate(&rec); err != nil {
		return zero, err
	}
	if err := c.checkUniqueLocked(&rec, id); err != nil {
		return zero, err
	}

	m := P(&rec).Base()
	m.UpdatedAt = c.reg.now()
	m.SyncStatus = types.SyncPending

	updated := append([]T(nil), records...)
	updated[i] = rec
	if err := c.save(updated); err != nil {
		return zero, err
	}
	if err := c.enqueueLocked(queue.OpUpdate, id, &rec, records); err != nil {
		return zero, err
	}
	return rec, nil
}

// applyPatch overlays patch on rec through its JSON form, ignoring the
// metadata and immutable fields.
func (c *Collection[T, P]) applyPatch(rec T, patch Patch) (T, error) {
	var zero T
	data, err := json.Marshal(rec)
	if err != nil {
		return zero, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return zero, err
	}

	skip := make(map[string]bool)
	for _, f := range metaFields {
		skip[f] = true
	}
	for _, f := range c.schema.Immutable {
		skip[f] = true
	}
	for k, v := range patch {
		if !skip[k] {
			fields[k] = v
		}
	}

	data, err = json.Marshal(fields)
	if err != nil {
		return zero, err
	}
	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, &ValidationError{
			Table:  c.schema.Table,
			Fields: []validation.ValidationError{{Field: "patch", Message: err.Error()}},
		}
	}
	return out, nil
}

// Delete removes the record with id and records a hard delete by id.
func (c *Collection[T, P]) Delete(id string) error {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	_, err := c.deleteLocked(id, DeleteKey{Column: "id", Value: id})
	return err
}

// DeleteKey is the remote column and value a delete matches on.
type DeleteKey struct {
	Column string
	Value  string
}

func (c *Collection[T, P]) deleteLocked(id string, by DeleteKey) (T, error) {
	var zero T
	records, err := c.load()
	if err != nil {
		return zero, err
	}
	i := indexOf[T, P](records, id)
	if i < 0 {
		return zero, &NotFoundError{Table: c.schema.Table, ID: id}
	}
	removed := records[i]

	kept := make([]T, 0, len(records)-1)
	kept = append(kept, records[:i]...)
	kept = append(kept, records[i+1:]...)
	if err := c.save(kept); err != nil {
		return zero, err
	}

	data, err := json.Marshal(queue.DeletePayload{Key: by.Column, Value: by.Value, HardDelete: true})
	if err != nil {
		c.rollback(records)
		return zero, err
	}
	_, err = c.reg.queue.Enqueue(queue.Item{
		Table:     c.schema.Table,
		Operation: queue.OpDelete,
		EntityID:  id,
		Data:      data,
	})
	if err != nil {
		c.rollback(records)
		return zero, fmt.Errorf("enqueue %s delete: %w", c.schema.Table, err)
	}
	return removed, nil
}

// Cached returns the locally cached records without contacting the remote.
func (c *Collection[T, P]) Cached() ([]T, error) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	records, err := c.load()
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []T{}
	}
	return records, nil
}

// List returns every record, refreshing from the remote first when online.
// Remote failures are logged and the cache is served.
func (c *Collection[T, P]) List(ctx context.Context) ([]T, error) {
	if err := c.Refresh(ctx); err != nil && !errors.Is(err, ErrRemoteUnavailable) {
		logRefreshFallback(c.schema.Table, err)
	}
	return c.Cached()
}

// Get returns the record with id, refreshing from the remote first when online.
func (c *Collection[T, P]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	records, err := c.List(ctx)
	if err != nil {
		return zero, err
	}
	if i := indexOf[T, P](records, id); i >= 0 {
		return records[i], nil
	}
	return zero, &NotFoundError{Table: c.schema.Table, ID: id}
}

// Find returns the first cached record matching pred.
func (c *Collection[T, P]) Find(pred func(*T) bool) (T, bool, error) {
	var zero T
	records, err := c.Cached()
	if err != nil {
		return zero, false, err
	}
	for i := range records {
		if pred(&records[i]) {
			return records[i], true, nil
		}
	}
	return zero, false, nil
}

// refreshAttempts bounds how often Refresh re-reads a table whose records
// were marked synced while the select was in flight.
const refreshAttempts = 2

// Refresh replaces the cache with the merge of the cache and the remote
// table. It returns ErrRemoteUnavailable when offline or local-only.
//
// A select that overlaps a sync pass may predate writes the pass has
// already marked synced locally; merging it would drop or roll back those
// records. Such a snapshot is discarded and the table read again, and if
// the race repeats the cache is left as it is.
func (c *Collection[T, P]) Refresh(ctx context.Context) error {
	if !c.reg.canReachRemote() {
		return ErrRemoteUnavailable
	}

	for attempt := 1; attempt <= refreshAttempts; attempt++ {
		gen := c.reg.syncGeneration()
		fromRemote, err := c.selectRemote(ctx)
		if err != nil {
			return err
		}

		merged, err := c.mergeIfUnchanged(gen, fromRemote)
		if err != nil || merged {
			return err
		}
		slog.Debug("records synced during refresh, discarding snapshot",
			"table", c.schema.Table,
			"attempt", attempt,
			"component", "repository",
		)
	}
	return nil
}

func (c *Collection[T, P]) selectRemote(ctx context.Context) ([]T, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.reg.timeout)
	rows, err := c.reg.remote.Select(callCtx, c.schema.Table)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", c.schema.Table, err)
	}

	fromRemote := make([]T, 0, len(rows))
	for _, row := range rows {
		rec := c.schema.FromRow(row)
		if P(&rec).Base().ID == "" {
			continue
		}
		fromRemote = append(fromRemote, rec)
	}
	return fromRemote, nil
}

// mergeIfUnchanged merges fromRemote into the cache unless MarkSynced has
// changed a record since gen was read.
func (c *Collection[T, P]) mergeIfUnchanged(gen uint64, fromRemote []T) (bool, error) {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.reg.syncGen != gen {
		return false, nil
	}
	local, err := c.load()
	if err != nil {
		return false, err
	}
	merged := Merge[T, P](local, fromRemote, c.reg.queue.PendingDeletes(c.schema.Table))
	return true, c.save(merged)
}

// RemoteRow decodes a queued payload and translates it to a remote row.
func (c *Collection[T, P]) RemoteRow(data json.RawMessage) (remote.Row, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", c.schema.Table, err)
	}
	return c.schema.ToRow(&rec), nil
}

// MarkSynced flips the given records to synced unless they still have
// queued mutations.
func (c *Collection[T, P]) MarkSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	records, err := c.load()
	if err != nil {
		return err
	}
	changed := false
	for _, id := range ids {
		i := indexOf[T, P](records, id)
		if i < 0 || c.reg.queue.HasPending(c.schema.Table, id) {
			continue
		}
		if m := P(&records[i]).Base(); m.SyncStatus != types.SyncSynced {
			m.SyncStatus = types.SyncSynced
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := c.save(records); err != nil {
		return err
	}
	c.reg.syncGen++
	return nil
}
