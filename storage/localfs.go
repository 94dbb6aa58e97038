package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
)

// LocalFS is a FileSystem rooted at a local directory. It serves
// single-node development setups and tests. Replication is not enforced;
// the requested factor is recorded so callers can inspect it.
type LocalFS struct {
	root string

	mu          sync.Mutex
	replication map[string]int
}

var _ FileSystem = (*LocalFS)(nil)

// NewLocalFS creates the root directory if needed.
func NewLocalFS(root string) (*LocalFS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create local store root %s: %w", root, err)
	}
	return &LocalFS{root: root, replication: make(map[string]int)}, nil
}

func (l *LocalFS) resolve(name string) string {
	// path.Clean on a rooted path cannot climb above "/".
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+name)))
}

type localFile struct {
	*os.File
	size int64
}

func (f *localFile) Size() int64 { return f.size }

// Open implements FileSystem.
func (l *LocalFS) Open(ctx context.Context, name string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(l.resolve(name))
	if err != nil {
		return nil, classify("open", name, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, classify("stat", name, err)
	}
	if st.IsDir() {
		f.Close()
		return nil, classify("open", name, fmt.Errorf("%s is a directory", name))
	}
	return &localFile{File: f, size: st.Size()}, nil
}

// Create implements FileSystem.
func (l *LocalFS) Create(ctx context.Context, name string, opts WriteOptions) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full := l.resolve(name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, classify("mkdir", path.Dir(name), err)
	}
	f, err := os.Create(full)
	if err != nil {
		return nil, classify("create", name, err)
	}
	l.mu.Lock()
	l.replication[path.Clean("/"+name)] = opts.Replication
	l.mu.Unlock()
	return f, nil
}

// Remove implements FileSystem.
func (l *LocalFS) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.RemoveAll(l.resolve(name)); err != nil {
		return classify("remove", name, err)
	}
	l.mu.Lock()
	delete(l.replication, path.Clean("/"+name))
	l.mu.Unlock()
	return nil
}

// Replication returns the factor requested by the last Create of name.
func (l *LocalFS) Replication(name string) (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.replication[path.Clean("/"+name)]
	return r, ok
}

// Root returns the backing directory.
func (l *LocalFS) Root() string { return l.root }

// Close implements FileSystem.
func (l *LocalFS) Close() error { return nil }
