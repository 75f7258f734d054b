// Package stdio implements a buffered file driver: writes are staged in
// memory and pushed to the OS file when the buffer fills, on Sync and on
// Close. Reads observe staged writes.
package stdio

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/hdfive/pkg/driver"
)

// DefaultBufferSize is the staging buffer threshold when none is configured.
const DefaultBufferSize = 64 * 1024

// Config contains configuration for the stdio driver.
type Config struct {
	// BufferSize is the staged-write threshold in bytes before an
	// automatic flush to the OS file
	BufferSize int `mapstructure:"buffer_size"`
}

// Driver performs buffered file I/O.
type Driver struct {
	bufferSize int
}

// New builds a stdio driver from per-open options (driver.Factory).
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid stdio options: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a stdio driver from a typed config.
func NewWithConfig(cfg Config) (*Driver, error) {
	if cfg.BufferSize < 0 {
		return nil, fmt.Errorf("buffer_size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.BufferSize == 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Driver{bufferSize: cfg.BufferSize}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "stdio"
}

// Open implements driver.Driver.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, flag.OSFlags(), 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	return &stdioFile{
		f:       f,
		size:    info.Size(),
		maxBuf:  d.bufferSize,
		ronly:   flag.IsReadOnly(),
		pending: nil,
	}, nil
}

// Exists implements driver.Driver.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Writable implements driver.Driver.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false, nil
	}
	f.Close()
	return true, nil
}

// writeOp is one staged write. Replaying ops in order reproduces the
// final byte image, so no coalescing is needed for correctness.
type writeOp struct {
	off  int64
	data []byte
}

type stdioFile struct {
	f        *os.File
	size     int64
	maxBuf   int
	buffered int
	ronly    bool
	pending  []writeOp
}

func (s *stdioFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= s.size {
		return 0, io.EOF
	}

	n := len(p)
	if off+int64(n) > s.size {
		n = int(s.size - off)
	}

	// Base image first, zero-filling the region past the OS file's end;
	// staged writes may extend the file without having been applied yet.
	read, err := s.f.ReadAt(p[:n], off)
	if err != nil && err != io.EOF {
		return read, err
	}
	for i := read; i < n; i++ {
		p[i] = 0
	}

	// Overlay staged writes in order.
	for _, op := range s.pending {
		start := op.off
		end := op.off + int64(len(op.data))
		rs := off
		re := off + int64(n)
		if end <= rs || start >= re {
			continue
		}
		from := max(start, rs)
		to := min(end, re)
		copy(p[from-off:to-off], op.data[from-start:to-start])
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *stdioFile) WriteAt(p []byte, off int64) (int, error) {
	if s.ronly {
		return 0, os.ErrPermission
	}

	data := make([]byte, len(p))
	copy(data, p)
	s.pending = append(s.pending, writeOp{off: off, data: data})
	s.buffered += len(data)

	if end := off + int64(len(p)); end > s.size {
		s.size = end
	}

	if s.buffered >= s.maxBuf {
		if err := s.applyPending(); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (s *stdioFile) applyPending() error {
	for _, op := range s.pending {
		if _, err := s.f.WriteAt(op.data, op.off); err != nil {
			return err
		}
	}
	s.pending = nil
	s.buffered = 0
	return nil
}

func (s *stdioFile) Size() (int64, error) {
	return s.size, nil
}

func (s *stdioFile) Truncate(size int64) error {
	if s.ronly {
		return os.ErrPermission
	}

	if err := s.applyPending(); err != nil {
		return err
	}
	if err := s.f.Truncate(size); err != nil {
		return err
	}
	s.size = size
	return nil
}

func (s *stdioFile) Sync() error {
	if err := s.applyPending(); err != nil {
		return err
	}
	return s.f.Sync()
}

func (s *stdioFile) Close() error {
	if !s.ronly {
		if err := s.applyPending(); err != nil {
			s.f.Close()
			return err
		}
	}
	return s.f.Close()
}
