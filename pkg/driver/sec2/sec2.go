// Package sec2 implements the default driver: unbuffered I/O on ordinary
// OS files, one syscall-backed file per container.
package sec2

import (
	"context"
	"os"

	"github.com/marmos91/hdfive/pkg/driver"
)

// Driver performs unbuffered file I/O through the OS.
//
// Writability probing opens the file for writing and closes it again; this
// means a privileged process sees read-only files as writable, exactly as
// the underlying platform does.
type Driver struct{}

// New builds a sec2 driver. The driver takes no options; unknown keys are
// ignored so callers can pass a shared option map across drivers.
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	return &Driver{}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "sec2"
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
	return &sec2File{f: f}, nil
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

type sec2File struct {
	f *os.File
}

func (s *sec2File) ReadAt(p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *sec2File) WriteAt(p []byte, off int64) (int, error) {
	return s.f.WriteAt(p, off)
}

func (s *sec2File) Size() (int64, error) {
	info, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *sec2File) Truncate(size int64) error {
	return s.f.Truncate(size)
}

func (s *sec2File) Sync() error {
	return s.f.Sync()
}

func (s *sec2File) Close() error {
	return s.f.Close()
}
