package file

import (
	"fmt"

	"github.com/marmos91/hdfive/pkg/engine"
)

// ModeRequest bundles a mode token with the facts ResolveMode needs
// about the target container. The caller gathers the facts by probing;
// the resolver itself performs no I/O.
type ModeRequest struct {
	// Mode is the requested mode token: "r", "r+", "w", "w-", "x",
	// "a", or "" for the default open-or-create behavior.
	Mode string

	// Exists reports whether the container is present on storage.
	Exists bool

	// ValidFormat reports whether the existing container carries a
	// valid signature and superblock. Meaningless when Exists is false.
	ValidFormat bool

	// Writable reports whether a write probe on the existing container
	// succeeded. Only consulted by the default mode.
	Writable bool

	// StoredUserblock is the userblock size recorded in the existing
	// container. Meaningless unless Exists and ValidFormat are true.
	StoredUserblock uint64

	// Options carries the open options; nil means defaults.
	Options *OpenOptions
}

// ResolvedOpen is the outcome of mode resolution: the concrete access
// level and creation flags the engine should be driven with.
type ResolvedOpen struct {
	// Access is the session access level.
	Access engine.Access

	// Mode is the effective mode label, always "r" or "r+".
	Mode string

	// Create indicates the container must be created.
	Create bool

	// Exclusive indicates creation must fail if the container exists.
	Exclusive bool

	// Truncate indicates an existing container is discarded.
	Truncate bool

	// Userblock is the userblock size the session must honor: the
	// requested size when creating, the stored size when opening.
	Userblock uint64
}

// ResolveMode maps a mode token plus the probed facts to the concrete
// open parameters, or to a classified error. The token semantics:
//
//	"r"   read-only, the container must exist
//	"r+"  read-write, the container must exist
//	"w"   create, discarding any existing container
//	"w-"  create, failing if the container exists ("x" is an alias)
//	"x"   alias for "w-"
//	"a"   read-write, creating the container when missing
//	""    open read-write when possible, falling back to read-only;
//	      creating the container when missing
//
// A userblock size may only be requested when the resolved operation
// creates the container; on an existing container opened with "a" or
// the default mode, a non-zero request must match the stored size.
func ResolveMode(req ModeRequest) (ResolvedOpen, error) {
	opts := req.Options
	if opts == nil {
		opts = NewOpenOptions()
	}
	if err := validateUserblockSize(opts.Userblock); err != nil {
		return ResolvedOpen{}, err
	}

	switch req.Mode {
	case "r", "r+":
		if opts.Userblock != 0 {
			return ResolvedOpen{}, &Error{
				Kind:    KindInvalidArgument,
				Message: fmt.Sprintf("userblock size cannot be requested in mode %q", req.Mode),
			}
		}
		if !req.Exists {
			return ResolvedOpen{}, &Error{Kind: KindNotFound, Message: "file does not exist"}
		}
		if !req.ValidFormat {
			return ResolvedOpen{}, &Error{Kind: KindFormat, Message: "file is not a valid container"}
		}
		access := engine.ReadOnly
		if req.Mode == "r+" {
			access = engine.ReadWrite
		}
		return ResolvedOpen{
			Access:    access,
			Mode:      req.Mode,
			Userblock: req.StoredUserblock,
		}, nil

	case "w":
		return ResolvedOpen{
			Access:    engine.ReadWrite,
			Mode:      "r+",
			Create:    true,
			Truncate:  true,
			Userblock: opts.Userblock,
		}, nil

	case "w-", "x":
		if req.Exists {
			return ResolvedOpen{}, &Error{Kind: KindAlreadyExists, Message: "file already exists"}
		}
		return ResolvedOpen{
			Access:    engine.ReadWrite,
			Mode:      "r+",
			Create:    true,
			Exclusive: true,
			Userblock: opts.Userblock,
		}, nil

	case "a":
		if !req.Exists {
			return ResolvedOpen{
				Access:    engine.ReadWrite,
				Mode:      "r+",
				Create:    true,
				Exclusive: true,
				Userblock: opts.Userblock,
			}, nil
		}
		if !req.ValidFormat {
			return ResolvedOpen{}, &Error{Kind: KindFormat, Message: "file is not a valid container"}
		}
		if err := matchStoredUserblock(opts.Userblock, req.StoredUserblock); err != nil {
			return ResolvedOpen{}, err
		}
		return ResolvedOpen{
			Access:    engine.ReadWrite,
			Mode:      "r+",
			Userblock: req.StoredUserblock,
		}, nil

	case "":
		if !req.Exists {
			return ResolvedOpen{
				Access:    engine.ReadWrite,
				Mode:      "r+",
				Create:    true,
				Exclusive: true,
				Userblock: opts.Userblock,
			}, nil
		}
		if !req.ValidFormat {
			return ResolvedOpen{}, &Error{Kind: KindFormat, Message: "file is not a valid container"}
		}
		if err := matchStoredUserblock(opts.Userblock, req.StoredUserblock); err != nil {
			return ResolvedOpen{}, err
		}
		// The write probe decides the access level. The probe always
		// succeeds for the superuser, so root gets a read-write handle
		// even on containers with read-only permission bits.
		access := engine.ReadOnly
		mode := "r"
		if req.Writable {
			access = engine.ReadWrite
			mode = "r+"
		}
		return ResolvedOpen{
			Access:    access,
			Mode:      mode,
			Userblock: req.StoredUserblock,
		}, nil

	default:
		return ResolvedOpen{}, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("unknown mode %q", req.Mode),
		}
	}
}

// matchStoredUserblock checks a userblock request against the size
// recorded in an existing container. Requesting zero always passes;
// the stored size wins.
func matchStoredUserblock(requested, stored uint64) error {
	if requested != 0 && requested != stored {
		return &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("userblock size mismatch: requested %d, stored %d", requested, stored),
		}
	}
	return nil
}
