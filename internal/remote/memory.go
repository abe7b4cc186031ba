package remote

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnreachable is returned by MemoryStore while marked unreachable.
var ErrUnreachable = errors.New("remote unreachable")

// Call records one mutating call made against a MemoryStore.
type Call struct {
	Op    string
	Table string
	ID    string
}

// MemoryStore is an in-process Store enforcing the unique columns in Tables.
// It can inject failures and hangs, which makes it the test double for the
// sync engine as well as the "memory" backend of the API server.
type MemoryStore struct {
	mu          sync.Mutex
	tables      map[string]map[string]Row
	calls       []Call
	writeErrs   []error
	selectErr   error
	hang        bool
	unreachable bool
}

// NewMemoryStore returns an empty store with every known table.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{tables: make(map[string]map[string]Row)}
	for t := range Tables {
		m.tables[t] = make(map[string]Row)
	}
	return m
}

// FailWrites makes the next n mutating calls return err.
func (m *MemoryStore) FailWrites(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.writeErrs = append(m.writeErrs, err)
	}
}

// SetSelectError makes Select return err until cleared with nil.
func (m *MemoryStore) SetSelectError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selectErr = err
}

// SetHang makes every call block until its context is done.
func (m *MemoryStore) SetHang(hang bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hang = hang
}

// SetReachable controls the result of Ping.
func (m *MemoryStore) SetReachable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unreachable = !ok
}

// Calls returns the mutating calls made so far, in order.
func (m *MemoryStore) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Put stores row directly, bypassing constraints and call recording.
func (m *MemoryStore) Put(table string, row Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]Row)
	}
	m.tables[table][row.String("id")] = row.Clone()
}

// Row returns the row with id, if present.
func (m *MemoryStore) Row(table, id string) (Row, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.tables[table][id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Ping implements Pinger.
func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	unreachable := m.unreachable
	m.mu.Unlock()
	if unreachable {
		return ErrUnreachable
	}
	return ctx.Err()
}

// wait blocks until ctx is done when hanging is enabled.
func (m *MemoryStore) wait(ctx context.Context) error {
	m.mu.Lock()
	hang := m.hang
	m.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return ctx.Err()
}

// nextWriteErrLocked pops an injected write failure, if any.
func (m *MemoryStore) nextWriteErrLocked() error {
	if len(m.writeErrs) == 0 {
		return nil
	}
	err := m.writeErrs[0]
	m.writeErrs = m.writeErrs[1:]
	return err
}

func (m *MemoryStore) Select(ctx context.Context, table string, filters ...Filter) ([]Row, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.selectErr != nil {
		return nil, m.selectErr
	}
	rows, ok := m.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}

	var out []Row
	for _, r := range rows {
		if matches(r, filters) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String("id") < out[j].String("id") })
	return out, nil
}

func (m *MemoryStore) Insert(ctx context.Context, table string, row Row) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := row.String("id")
	m.calls = append(m.calls, Call{Op: "insert", Table: table, ID: id})
	if err := m.nextWriteErrLocked(); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	if _, exists := rows[id]; exists {
		return fmt.Errorf("%w: %s.id", ErrUniqueViolation, table)
	}
	if col, conflict := m.uniqueConflictLocked(table, id, row); conflict {
		return fmt.Errorf("%w: %s.%s", ErrUniqueViolation, table, col)
	}
	rows[id] = row.Clone()
	return nil
}

func (m *MemoryStore) Update(ctx context.Context, table, id string, patch Row) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "update", Table: table, ID: id})
	if err := m.nextWriteErrLocked(); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	existing, ok := rows[id]
	if !ok {
		return nil
	}
	merged := existing.Clone()
	for k, v := range patch {
		if k != "id" {
			merged[k] = v
		}
	}
	if col, conflict := m.uniqueConflictLocked(table, id, merged); conflict {
		return fmt.Errorf("%w: %s.%s", ErrUniqueViolation, table, col)
	}
	rows[id] = merged
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, table string, match Filter) error {
	if err := m.wait(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "delete", Table: table, ID: fmt.Sprint(match.Value)})
	if err := m.nextWriteErrLocked(); err != nil {
		return err
	}
	rows, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	for id, r := range rows {
		if matches(r, []Filter{match}) {
			delete(rows, id)
		}
	}
	return nil
}

func (m *MemoryStore) uniqueConflictLocked(table, id string, row Row) (string, bool) {
	for _, col := range Tables[table] {
		v := row.String(col)
		if v == "" {
			continue
		}
		for otherID, other := range m.tables[table] {
			if otherID != id && other.String(col) == v {
				return col, true
			}
		}
	}
	return "", false
}

func matches(r Row, filters []Filter) bool {
	for _, f := range filters {
		if r.String(f.Column) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}
