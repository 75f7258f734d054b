package file

import (
	"errors"

	"github.com/marmos91/hdfive/pkg/engine"
)

// ErrorKind classifies failures surfaced by the file layer.
type ErrorKind int

const (
	// KindInvalidArgument indicates a malformed request, such as an
	// unknown mode token or an illegal userblock size.
	KindInvalidArgument ErrorKind = iota

	// KindNotFound indicates a missing container or object.
	KindNotFound

	// KindAlreadyExists indicates an exclusive create hit an existing
	// container, or a link name collision.
	KindAlreadyExists

	// KindFormat indicates the target is not a valid container file.
	KindFormat

	// KindPermission indicates the operation is denied, either by the
	// operating system or because the handle is read-only.
	KindPermission

	// KindInvalidOperation indicates the operation is illegal in the
	// handle's current state, such as writing through a closed handle.
	KindInvalidOperation

	// KindNotSupported indicates the operation is not available, such
	// as serializing a handle or atomic mode on a local driver.
	KindNotSupported

	// KindDriver indicates an opaque failure in the storage driver.
	KindDriver
)

// String returns a short human-readable label for the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid argument"
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindFormat:
		return "format error"
	case KindPermission:
		return "permission denied"
	case KindInvalidOperation:
		return "invalid operation"
	case KindNotSupported:
		return "not supported"
	case KindDriver:
		return "driver error"
	default:
		return "unknown"
	}
}

// Error is the error type returned by all file-layer operations.
// When the failure originated in the storage engine, the engine error
// is wrapped and reachable through errors.As.
type Error struct {
	Kind    ErrorKind
	Message string
	Path    string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// Unwrap returns the underlying engine error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a file-layer Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// fromEngine converts an engine error into a file-layer Error. Context
// cancellation errors pass through unchanged.
func fromEngine(err error) error {
	if err == nil {
		return nil
	}
	var ee *engine.Error
	if !errors.As(err, &ee) {
		return err
	}
	var kind ErrorKind
	switch ee.Code {
	case engine.ErrNotFound:
		kind = KindNotFound
	case engine.ErrAlreadyExists:
		kind = KindAlreadyExists
	case engine.ErrNotFormat:
		kind = KindFormat
	case engine.ErrPermission, engine.ErrReadOnly:
		kind = KindPermission
	case engine.ErrSessionClosed:
		kind = KindInvalidOperation
	case engine.ErrInvalidArgument:
		kind = KindInvalidArgument
	case engine.ErrUnsupported:
		kind = KindNotSupported
	default:
		kind = KindDriver
	}
	return &Error{Kind: kind, Message: ee.Message, Path: ee.Path, Err: ee}
}
