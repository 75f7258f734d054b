// Package driver defines the byte-level storage abstraction under the
// container engine: a Driver opens named containers as flat random-access
// files, without knowing anything about the format stored in them.
//
// Implementations live in subpackages (sec2, stdio, core, split, family,
// kv, ros3, mpio) and are assembled into an explicit Registry; there is no
// process-wide default registry.
package driver

import (
	"context"
	"io"
	"os"
)

// OpenFlag selects how a driver opens a container. Flags combine the
// requested capability (read/write) with the create disposition.
type OpenFlag uint32

const (
	// OpenRead requests read capability
	OpenRead OpenFlag = 1 << iota

	// OpenWrite requests write capability
	OpenWrite

	// OpenCreate creates the container when it does not exist
	OpenCreate

	// OpenExclusive makes OpenCreate fail when the container exists
	OpenExclusive

	// OpenTruncate discards existing content on open
	OpenTruncate
)

// IsReadOnly reports whether the flag requests no write capability.
func (f OpenFlag) IsReadOnly() bool {
	return f&OpenWrite == 0
}

// Creates reports whether the flag may create a new container.
func (f OpenFlag) Creates() bool {
	return f&OpenCreate != 0
}

// OSFlags translates the flag into os.OpenFile flags.
func (f OpenFlag) OSFlags() int {
	var flags int
	switch {
	case f&OpenWrite != 0 && f&OpenRead != 0:
		flags = os.O_RDWR
	case f&OpenWrite != 0:
		flags = os.O_WRONLY
	default:
		flags = os.O_RDONLY
	}
	if f&OpenCreate != 0 {
		flags |= os.O_CREATE
	}
	if f&OpenExclusive != 0 {
		flags |= os.O_EXCL
	}
	if f&OpenTruncate != 0 {
		flags |= os.O_TRUNC
	}
	return flags
}

// Driver is a pluggable byte-level storage backend.
//
// Thread Safety:
// Driver methods must be safe for concurrent use; Files they return are
// confined to one session and are not internally synchronized.
type Driver interface {
	// Name returns the registered driver name.
	Name() string

	// Open opens the container at path according to flag.
	Open(ctx context.Context, path string, flag OpenFlag) (File, error)

	// Exists reports whether a container is present at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Writable reports whether the container at path could be opened with
	// write capability. Advisory: on POSIX systems a privileged process may
	// see read-only files as writable.
	Writable(ctx context.Context, path string) (bool, error)
}

// File is an open byte-level container: a flat, random-access extent.
type File interface {
	io.ReaderAt
	io.WriterAt

	// Size returns the current extent size in bytes.
	Size() (int64, error)

	// Truncate resizes the extent.
	Truncate(size int64) error

	// Sync forces buffered state down to the backing storage.
	Sync() error

	// Close releases the file. Further calls on the File are invalid.
	Close() error
}

// MetaRaw is implemented by driver files that keep format metadata and raw
// payload in separate extents (the split driver). Engines route superblock
// and tree bytes to Meta and dataset payload to Raw; for every other driver
// both regions share one extent.
type MetaRaw interface {
	Meta() File
	Raw() File
}

// AtomicFile is implemented by driver files supporting a write-through
// mode where every write is synced before returning.
type AtomicFile interface {
	Atomic() bool
	SetAtomic(enable bool)
}

// Communicator coordinates cooperating processes for parallel drivers.
// Rank 0 performs structural operations; Barrier delimits them. The
// implementation is supplied by the caller; no MPI binding is assumed.
type Communicator interface {
	Rank() int
	Size() int
	Barrier(ctx context.Context) error
}
