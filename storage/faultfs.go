package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"sync"
)

// FaultFS wraps a FileSystem and injects failures. It is used to exercise
// the unavailable-replica and transient-write paths without a cluster.
type FaultFS struct {
	FileSystem

	mu          sync.Mutex
	unavailable map[string]bool
	failCreates int
	createErr   error
	opens       map[string]int
	creates     map[string]int
}

var _ FileSystem = (*FaultFS)(nil)

// NewFaultFS wraps inner.
func NewFaultFS(inner FileSystem) *FaultFS {
	return &FaultFS{
		FileSystem:  inner,
		unavailable: make(map[string]bool),
		opens:       make(map[string]int),
		creates:     make(map[string]int),
	}
}

func clean(name string) string { return path.Clean("/" + name) }

// SetUnavailable makes reads of name fail as if every replica were down.
func (f *FaultFS) SetUnavailable(name string, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if down {
		f.unavailable[clean(name)] = true
	} else {
		delete(f.unavailable, clean(name))
	}
}

// FailNextCreates makes the next n Create calls fail with err.
func (f *FaultFS) FailNextCreates(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCreates = n
	f.createErr = err
}

// Opens returns how many times name was opened.
func (f *FaultFS) Opens(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens[clean(name)]
}

// Creates returns how many times name was created.
func (f *FaultFS) Creates(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates[clean(name)]
}

// Open implements FileSystem.
func (f *FaultFS) Open(ctx context.Context, name string) (File, error) {
	f.mu.Lock()
	f.opens[clean(name)]++
	down := f.unavailable[clean(name)]
	f.mu.Unlock()

	file, err := f.FileSystem.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if down {
		file.Close()
		return nil, classify("open", name, fmt.Errorf("could not find replica for any block of %s", name))
	}
	return file, nil
}

// Create implements FileSystem.
func (f *FaultFS) Create(ctx context.Context, name string, opts WriteOptions) (io.WriteCloser, error) {
	f.mu.Lock()
	f.creates[clean(name)]++
	if f.failCreates > 0 {
		f.failCreates--
		err := f.createErr
		f.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("connection refused")
		}
		return nil, classify("create", name, err)
	}
	f.mu.Unlock()
	return f.FileSystem.Create(ctx, name, opts)
}
