// Package engine defines the storage boundary of the container format:
// the Engine interface performing opens, creates and probes, the Session
// interface owning one open container, and the object tree data model
// shared by every implementation.
//
// The reference implementation lives in the hv5 subpackage. Callers are
// expected to go through the file layer, which resolves access modes and
// translates engine error codes into the caller-facing taxonomy.
package engine

import "context"

// Access is the capability a session is opened with.
type Access int

const (
	// ReadOnly sessions reject every mutation with ErrReadOnly
	ReadOnly Access = iota

	// ReadWrite sessions accept mutations and persist them on flush
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "rw"
	}
	return "ro"
}

// SessionConfig carries the driver selection and the create-time format
// parameters for an open or create call.
type SessionConfig struct {
	// Driver is the registered driver name performing byte-level I/O
	Driver string

	// DriverOptions holds driver-specific options, decoded by the driver
	// factory (mapstructure tags on the driver's config struct)
	DriverOptions map[string]any

	// Userblock is the size in bytes of the caller-owned region at the
	// start of the container; 0 or a power of two >= 512
	Userblock uint64

	// Libver are the normalized on-disk version bounds
	Libver LibverBounds

	// Strategy is the file-space accounting strategy (create-time only)
	Strategy FileSpaceStrategy
}

// FormatInfo is the result of a format probe.
type FormatInfo struct {
	// Exists reports whether the container is present on the driver
	Exists bool

	// Valid reports whether a recognizable signature and superblock were
	// found (false whenever Exists is false)
	Valid bool

	// Userblock is the stored userblock size, derived from the signature
	// offset (valid only when Valid)
	Userblock uint64

	// Version is the stored superblock version (valid only when Valid)
	Version uint8
}

// SessionInfo describes an open session.
type SessionInfo struct {
	Path              string
	Driver            string
	ReadWrite         bool
	Userblock         uint64
	Libver            LibverBounds
	Strategy          FileSpaceStrategy
	SuperblockVersion uint8
}

// ============================================================================
// Engine Interface
// ============================================================================

// Engine opens, creates and probes containers on top of pluggable drivers.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Sessions returned by
// Open/Create are NOT internally synchronized; each session is owned by one
// caller at a time.
type Engine interface {
	// Open opens an existing container.
	//
	// The container must exist and carry a valid superblock. When cfg
	// requests a nonzero userblock it must match the stored size; 0 means
	// "accept whatever is stored".
	//
	// Parameters:
	//   - ctx: Context checked before any driver I/O begins
	//   - path: Container path, interpreted by the selected driver
	//   - access: ReadOnly or ReadWrite
	//   - cfg: Driver selection and format expectations
	//
	// Returns:
	//   - Session: Open session rooted at the decoded tree
	//   - error: *Error with ErrNotFound, ErrNotFormat, ErrPermission,
	//     ErrInvalidArgument (userblock mismatch) or ErrDriver
	Open(ctx context.Context, path string, access Access, cfg SessionConfig) (Session, error)

	// Create creates a new container, truncating an existing one unless
	// exclusive is set.
	//
	// The empty root group is persisted immediately so the container is
	// observable on the driver before the first flush.
	//
	// Parameters:
	//   - ctx: Context checked before any driver I/O begins
	//   - path: Container path, interpreted by the selected driver
	//   - exclusive: Fail with ErrAlreadyExists instead of truncating
	//   - cfg: Driver selection and create-time format parameters
	//
	// Returns:
	//   - Session: Open read-write session over the fresh container
	//   - error: *Error with ErrAlreadyExists, ErrPermission,
	//     ErrInvalidArgument or ErrDriver
	Create(ctx context.Context, path string, exclusive bool, cfg SessionConfig) (Session, error)

	// ProbeFormat inspects the container without opening a session.
	//
	// A missing container yields {Exists: false} and a nil error; probe
	// errors other than absence are reported as *Error.
	ProbeFormat(ctx context.Context, path string, cfg SessionConfig) (FormatInfo, error)

	// ProbeWritable reports whether the container could be opened for
	// writing. On POSIX systems running with elevated privileges the
	// underlying access check may report true for a read-only file; callers
	// treat the answer as advisory.
	ProbeWritable(ctx context.Context, path string, cfg SessionConfig) (bool, error)
}

// ============================================================================
// Session Interface
// ============================================================================

// Session is one open container: a decoded object tree over a driver file.
//
// Mutations operate on the in-memory tree and are persisted by Flush; Close
// flushes dirty read-write sessions before releasing driver resources.
//
// Thread Safety:
// A session is confined to its owner. The file layer serializes access.
type Session interface {
	// Root returns the root group of the tree.
	Root() *Object

	// Lookup resolves an object path ("/a/b"). Returns ErrNotFound when any
	// component is missing.
	Lookup(path string) (*Object, error)

	// CreateGroup creates a group at path, creating no intermediates.
	// The parent must exist; the leaf name must be free (ErrAlreadyExists).
	CreateGroup(path string) (*Object, error)

	// CreateDataset creates a dataset at path with the given spec.
	CreateDataset(path string, spec DatasetSpec) (*Object, error)

	// WriteDataset replaces the payload of the dataset at path. The data
	// length must match the declared element count for fixed-size dtypes.
	WriteDataset(path string, data []byte) error

	// SetAttribute adds or replaces a named attribute on the object at path.
	SetAttribute(path, name string, v AttrValue) error

	// Remove unlinks the object at path from its parent. Removing the root
	// fails with ErrInvalidArgument.
	Remove(path string) error

	// SetLink stores an external link named name under the group at path.
	SetLink(path, name string, target LinkTarget) error

	// Flush persists pending tree mutations and syncs the driver. A clean
	// or read-only session flushes as a no-op.
	Flush(ctx context.Context) error

	// Close flushes (when dirty and writable) and releases driver
	// resources. Closing an already-closed session is a no-op.
	Close(ctx context.Context) error

	// Info returns the immutable description of this session.
	Info() SessionInfo

	// Atomic reports the write-through flag of the underlying driver file.
	// Always false for drivers without atomic support.
	Atomic() bool

	// SetAtomic toggles write-through mode. Drivers without atomic support
	// return ErrUnsupported.
	SetAtomic(enable bool) error
}
