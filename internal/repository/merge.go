package repository

import "github.com/hyperengineering/labsync/internal/types"

// Merge combines the cached records of a table with a fresh remote listing.
//
// Remote records come first, in remote order, except that a local pending
// record replaces the remote record with the same id. Local pending records
// the remote does not have yet are appended in local order. Records whose id
// is in pendingDeletes are omitted, and local synced records absent from the
// remote are dropped.
func Merge[T any, P Record[T]](local, fromRemote []T, pendingDeletes map[string]bool) []T {
	pending := make(map[string]int)
	for i := range local {
		m := P(&local[i]).Base()
		if m.SyncStatus == types.SyncPending {
			pending[m.ID] = i
		}
	}

	out := make([]T, 0, len(fromRemote)+len(pending))
	seen := make(map[string]bool, len(fromRemote))
	for i := range fromRemote {
		id := P(&fromRemote[i]).Base().ID
		if pendingDeletes[id] || seen[id] {
			continue
		}
		seen[id] = true
		if li, ok := pending[id]; ok {
			out = append(out, local[li])
			continue
		}
		out = append(out, fromRemote[i])
	}

	for i := range local {
		m := P(&local[i]).Base()
		if m.SyncStatus != types.SyncPending || seen[m.ID] || pendingDeletes[m.ID] {
			continue
		}
		out = append(out, local[i])
	}
	return out
}
