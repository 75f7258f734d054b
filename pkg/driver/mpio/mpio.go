//go:build parallel
// +build parallel

// Package mpio implements a parallel driver for cooperating processes.
//
// The driver wraps plain file I/O with rank coordination: structural
// operations (create, truncate) are performed by rank 0 only, and the
// remaining ranks wait on a barrier before opening the container that
// rank 0 prepared. Data I/O carries no coordination; callers partition
// the byte range between ranks themselves.
//
// The communicator is supplied by the caller through the "comm" option.
// No MPI binding is assumed; anything implementing driver.Communicator
// works, which keeps the package testable in a single process.
//
// Files opened by this driver support an atomic write-through mode: when
// enabled, every WriteAt is followed by a sync so other ranks observe the
// bytes immediately.
package mpio

import (
	"context"
	"fmt"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/driver/sec2"
)

// Driver coordinates container access between ranks of a communicator.
type Driver struct {
	base *sec2.Driver
	comm driver.Communicator
}

// New builds an mpio driver from per-open options (driver.Factory).
//
// The options map must carry a "comm" entry implementing
// driver.Communicator; everything else is ignored.
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	comm, ok := options["comm"].(driver.Communicator)
	if !ok || comm == nil {
		return nil, fmt.Errorf("mpio driver requires 'comm' option implementing driver.Communicator")
	}
	return NewWithComm(comm), nil
}

// NewWithComm builds an mpio driver around an existing communicator.
func NewWithComm(comm driver.Communicator) *Driver {
	return &Driver{
		base: &sec2.Driver{},
		comm: comm,
	}
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "mpio"
}

// Open implements driver.Driver.
//
// Creating or truncating opens are collective: rank 0 performs the
// structural open, every other rank waits on the barrier and then opens
// the existing container without create flags. Rank 0 reaches the barrier
// even when its open fails, so the ranks cannot deadlock on an error.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	structural := flag&(driver.OpenCreate|driver.OpenTruncate) != 0

	if structural && d.comm.Size() > 1 {
		if d.comm.Rank() == 0 {
			f, err := d.base.Open(ctx, path, flag)
			if berr := d.comm.Barrier(ctx); berr != nil {
				if f != nil {
					_ = f.Close()
				}
				return nil, berr
			}
			if err != nil {
				return nil, err
			}
			return &mpioFile{File: f}, nil
		}

		if err := d.comm.Barrier(ctx); err != nil {
			return nil, err
		}
		flag &^= driver.OpenCreate | driver.OpenExclusive | driver.OpenTruncate
	}

	f, err := d.base.Open(ctx, path, flag)
	if err != nil {
		return nil, err
	}
	return &mpioFile{File: f}, nil
}

// Exists implements driver.Driver.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	return d.base.Exists(ctx, path)
}

// Writable implements driver.Driver.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	return d.base.Writable(ctx, path)
}

// mpioFile adds the atomic write-through mode on top of the base file.
type mpioFile struct {
	driver.File
	atomic bool
}

// WriteAt implements io.WriterAt. In atomic mode the write is synced
// before returning.
func (f *mpioFile) WriteAt(p []byte, off int64) (int, error) {
	n, err := f.File.WriteAt(p, off)
	if err != nil {
		return n, err
	}
	if f.atomic {
		if err := f.File.Sync(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Atomic implements driver.AtomicFile.
func (f *mpioFile) Atomic() bool {
	return f.atomic
}

// SetAtomic implements driver.AtomicFile.
func (f *mpioFile) SetAtomic(enable bool) {
	f.atomic = enable
}
