// Package core implements the in-memory driver. The container image lives
// in a byte buffer grown in block_size increments; with backing_store
// enabled the image is loaded from disk on open and written back on sync
// and close, without it the image never touches the filesystem.
package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/hdfive/pkg/driver"
)

// DefaultBlockSize is the buffer growth granularity when none is configured.
const DefaultBlockSize = 64 * 1024

// Config contains configuration for the core driver.
type Config struct {
	// BackingStore controls whether the memory image is persisted to the
	// container path on sync/close; nil means enabled
	BackingStore *bool `mapstructure:"backing_store"`

	// BlockSize is the allocation granularity of the memory image in bytes
	BlockSize int `mapstructure:"block_size"`
}

// Driver keeps container images in memory.
type Driver struct {
	backing   bool
	blockSize int
}

// New builds a core driver from per-open options (driver.Factory).
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid core options: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a core driver from a typed config.
func NewWithConfig(cfg Config) (*Driver, error) {
	if cfg.BlockSize < 0 {
		return nil, fmt.Errorf("block_size must be positive, got %d", cfg.BlockSize)
	}
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}

	backing := true
	if cfg.BackingStore != nil {
		backing = *cfg.BackingStore
	}

	return &Driver{backing: backing, blockSize: cfg.BlockSize}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "core"
}

// Open implements driver.Driver.
//
// Existing on-disk content is always read into the image, regardless of
// backing_store; the option only controls write-back.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	_, statErr := os.Stat(path)
	exists := statErr == nil
	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, statErr
	}

	if !exists && !flag.Creates() {
		return nil, os.ErrNotExist
	}
	if exists && flag.Creates() && flag&driver.OpenExclusive != 0 {
		return nil, os.ErrExist
	}

	var image []byte
	if exists && flag&driver.OpenTruncate == 0 {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		image = data
	}

	cf := &coreFile{
		path:      path,
		backing:   d.backing,
		blockSize: d.blockSize,
		ronly:     flag.IsReadOnly(),
		size:      int64(len(image)),
	}
	cf.buf = cf.alloc(len(image))
	copy(cf.buf, image)
	return cf, nil
}

// Exists implements driver.Driver. Existence is read through to the
// filesystem: an image created without a backing store never exists here.
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

// Writable implements driver.Driver. Without a backing store writes never
// reach disk, so the image is always writable.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if !d.backing {
		return true, nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false, nil
	}
	f.Close()
	return true, nil
}

type coreFile struct {
	path      string
	buf       []byte
	size      int64
	backing   bool
	blockSize int
	ronly     bool
	closed    bool
}

// alloc returns a buffer of at least n bytes rounded up to the block size.
func (c *coreFile) alloc(n int) []byte {
	if n == 0 {
		return make([]byte, 0)
	}
	blocks := (n + c.blockSize - 1) / c.blockSize
	return make([]byte, blocks*c.blockSize)[:n]
}

func (c *coreFile) ReadAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, os.ErrClosed
	}
	if off >= c.size {
		return 0, io.EOF
	}

	n := copy(p, c.buf[off:c.size])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (c *coreFile) WriteAt(p []byte, off int64) (int, error) {
	if c.closed {
		return 0, os.ErrClosed
	}
	if c.ronly {
		return 0, os.ErrPermission
	}

	end := off + int64(len(p))
	if end > int64(cap(c.buf)) {
		grown := c.alloc(int(end))
		copy(grown, c.buf)
		c.buf = grown
	}
	if end > c.size {
		c.buf = c.buf[:end]
		c.size = end
	}

	copy(c.buf[off:end], p)
	return len(p), nil
}

func (c *coreFile) Size() (int64, error) {
	return c.size, nil
}

func (c *coreFile) Truncate(size int64) error {
	if c.closed {
		return os.ErrClosed
	}
	if c.ronly {
		return os.ErrPermission
	}

	if size > int64(cap(c.buf)) {
		grown := c.alloc(int(size))
		copy(grown, c.buf)
		c.buf = grown
	}
	if size < c.size {
		// Extending again later must read zeros, like a real file.
		clear(c.buf[size:c.size])
	}
	c.buf = c.buf[:size]
	c.size = size
	return nil
}

// Sync writes the image back to the container path when the backing store
// is enabled.
func (c *coreFile) Sync() error {
	if c.closed {
		return os.ErrClosed
	}
	if !c.backing || c.ronly {
		return nil
	}

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(c.buf[:c.size]); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *coreFile) Close() error {
	if c.closed {
		return nil
	}

	err := c.Sync()
	c.closed = true
	c.buf = nil
	return err
}
