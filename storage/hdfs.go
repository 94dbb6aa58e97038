package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/colinmarc/hdfs/v2"
)

const (
	defaultReplication = 3
	// closeRetries bounds how often Close is retried while the namenode is
	// still completing the last block.
	closeRetries = 10
)

// HDFSOptions configures the namenode connection.
type HDFSOptions struct {
	NameNode         string
	User             string
	DefaultBlockSize int64
	Logger           *slog.Logger
}

// HDFS is a FileSystem backed by an HDFS cluster.
type HDFS struct {
	client    *hdfs.Client
	blockSize int64
	logger    *slog.Logger
}

var _ FileSystem = (*HDFS)(nil)

// NewHDFS connects to the namenode.
func NewHDFS(opts HDFSOptions) (*HDFS, error) {
	if opts.NameNode == "" {
		return nil, errors.New("hdfs namenode address must be set")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	client, err := hdfs.NewClient(hdfs.ClientOptions{
		Addresses: []string{opts.NameNode},
		User:      opts.User,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to hdfs namenode %s: %w", opts.NameNode, err)
	}
	return &HDFS{
		client:    client,
		blockSize: opts.DefaultBlockSize,
		logger:    logger.With("component", "HDFS"),
	}, nil
}

type hdfsFile struct {
	*hdfs.FileReader
	path string
	size int64
}

func (f *hdfsFile) Size() int64 { return f.size }

// ReadAt marks block read failures as unavailable so callers can tell a
// dead replica set apart from a missing file.
func (f *hdfsFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.FileReader.ReadAt(p, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, classify("read", f.path, err)
	}
	return n, err
}

// Open implements FileSystem.
func (h *HDFS) Open(ctx context.Context, name string) (File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := h.client.Open(name)
	if err != nil {
		return nil, classify("open", name, err)
	}
	return &hdfsFile{FileReader: r, path: name, size: r.Stat().Size()}, nil
}

type hdfsWriter struct {
	*hdfs.FileWriter
	path   string
	logger *slog.Logger
}

// Close retries while the namenode reports the last block is still
// replicating; all data has been acknowledged by then.
func (w *hdfsWriter) Close() error {
	var err error
	for i := 0; i < closeRetries; i++ {
		err = w.FileWriter.Close()
		if err == nil || !errors.Is(err, hdfs.ErrReplicating) {
			break
		}
		w.logger.Debug("Block still replicating, retrying close", "path", w.path, "attempt", i+1)
		time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
	}
	return classify("close", w.path, err)
}

// Create implements FileSystem. Existing content is removed first since
// HDFS has no truncate-on-create.
func (h *HDFS) Create(ctx context.Context, name string, opts WriteOptions) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	replication := opts.Replication
	if replication <= 0 {
		replication = defaultReplication
	}
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = h.blockSize
	}

	if err := h.client.MkdirAll(path.Dir(name), 0o755); err != nil {
		return nil, classify("mkdir", path.Dir(name), err)
	}
	if err := h.client.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, classify("remove", name, err)
	}
	w, err := h.client.CreateFile(name, replication, blockSize, 0o644)
	if err != nil {
		return nil, classify("create", name, err)
	}
	h.logger.Debug("Created file", "path", name, "replication", replication, "block_size", blockSize)
	return &hdfsWriter{FileWriter: w, path: name, logger: h.logger}, nil
}

// Remove implements FileSystem.
func (h *HDFS) Remove(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.client.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
		return classify("remove", name, err)
	}
	return nil
}

// Close implements FileSystem.
func (h *HDFS) Close() error {
	return h.client.Close()
}
