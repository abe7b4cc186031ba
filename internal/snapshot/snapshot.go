// Package snapshot takes consistent copies of the SQLite databases and
// ships them to S3-compatible storage. Without a configured bucket the
// NoopUploader is used and snapshots stay on local disk.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// ErrUnsupported is returned by sources that cannot be snapshotted, such
// as a Postgres remote store.
var ErrUnsupported = errors.New("snapshot not supported by this store")

// Source is a database that can write a consistent copy of itself to a
// file that does not exist yet.
type Source interface {
	Snapshot(ctx context.Context, destPath string) error
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// Take writes a snapshot of src to dir/name.db, replacing the previous
// one only once the new copy is complete.
func Take(ctx context.Context, src Source, dir, name string) (string, error) {
	if !namePattern.MatchString(name) {
		return "", fmt.Errorf("invalid snapshot name %q", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	final := filepath.Join(dir, name+".db")
	tmp := final + ".tmp"
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("remove stale snapshot: %w", err)
	}

	if err := src.Snapshot(ctx, tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("snapshot %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("install snapshot: %w", err)
	}
	return final, nil
}

// Path returns where Take writes the snapshot of name.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".db")
}
