// Package localstore provides the device-local durable key-value storage
// that backs the entity cache and the sync queue.
//
// Calls are synchronous and never touch the network.
package localstore

import "errors"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("local store closed")

// Store is a synchronous key to string storage persisted across restarts.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	// Set writes value under key, replacing any previous value.
	Set(key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
	// Keys returns all keys with the given prefix in lexical order.
	Keys(prefix string) ([]string, error)
	Close() error
}
