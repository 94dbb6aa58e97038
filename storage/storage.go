// Package storage is the adapter between the service and the distributed
// file store. It hides the concrete client and reports failures in two
// classes the callers branch on: ErrNotFound for a path that does not exist
// and ErrUnavailable for a path that exists but cannot be served.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
)

var (
	// ErrNotFound is returned when the requested path does not exist.
	ErrNotFound = errors.New("storage: file not found")
	// ErrUnavailable is returned when the file exists but its content
	// cannot be read or written, e.g. every replica of a block is down.
	ErrUnavailable = errors.New("storage: file unavailable")
)

// File is an open, read-only file in the store.
type File interface {
	io.ReaderAt
	io.Closer
	// Size returns the file length in bytes.
	Size() int64
}

// WriteOptions carries the placement policy applied to a single write.
type WriteOptions struct {
	// Replication is the number of copies kept for each block.
	Replication int
	// BlockSize is the block size in bytes. Zero uses the store default.
	BlockSize int64
}

// FileSystem is the contract the rest of the service consumes.
type FileSystem interface {
	// Open opens path for reading.
	Open(ctx context.Context, path string) (File, error)
	// Create opens path for writing, replacing any existing content.
	// Missing parent directories are created.
	Create(ctx context.Context, path string, opts WriteOptions) (io.WriteCloser, error)
	// Remove deletes path. Removing a missing path is not an error.
	Remove(ctx context.Context, path string) error
	// Close releases the client.
	Close() error
}

// classify wraps err with ErrNotFound or ErrUnavailable.
func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %s: %w", ErrNotFound, op, path, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, op, path, err)
}

// IsNotFound reports whether err means the path does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnavailable reports whether err means the path exists but is unreadable.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
