package engine

// Error represents a storage-level error from engine operations.
//
// These are classification errors (file missing, not a recognizable
// container, permission refused, etc.) as opposed to the caller-facing
// taxonomy built on top of them.
//
// The file layer translates Error codes to its own error kinds before
// surfacing them to API users.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the container path related to the error (if applicable)
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of an engine error.
//
// These map 1:1 onto the caller-facing error kinds in the file layer;
// the engine never surfaces driver-internal errors without classifying
// them first.
type ErrorCode int

const (
	// ErrNotFound indicates the requested container doesn't exist
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates an exclusive create collided with an
	// existing container at the same path
	ErrAlreadyExists

	// ErrNotFormat indicates a container is present but carries no
	// recognizable signature or an unsupported superblock version
	ErrNotFormat

	// ErrPermission indicates the driver refused the requested access
	// Used for OS permission failures surfaced during open or probe
	ErrPermission

	// ErrReadOnly indicates a mutation was attempted on a session opened
	// without write capability
	ErrReadOnly

	// ErrSessionClosed indicates the session backing the operation has
	// already been closed
	ErrSessionClosed

	// ErrInvalidArgument indicates invalid parameters were provided
	// Examples: empty object name, bad userblock size, unknown libver token
	ErrInvalidArgument

	// ErrDriver indicates an opaque driver-level failure
	// The original driver error text is preserved in Message
	ErrDriver

	// ErrUnsupported indicates the operation is not supported by the
	// selected driver
	// Example: write-capable open on a read-only object-store driver
	ErrUnsupported
)
