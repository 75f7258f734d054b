// Package file is the caller-facing handle layer over the storage
// engine. It resolves mode tokens against the probed state of the
// container, owns exactly one engine session per open File, and hands
// out Group and Dataset handles that stay bound to their File for
// their whole lifetime.
//
// Handles form a tree: the File is the root, and every Group or
// Dataset obtained through it carries the root plus the generation it
// was created under. Closing the File invalidates the whole tree in
// O(1) by bumping the generation; no traversal happens on close.
//
// Thread Safety:
// Handle bookkeeping (open state, generation, cached external files)
// is guarded by a mutex that is never held across I/O. The session
// itself is not internally synchronized; callers serialize operations
// on one handle tree.
package file

import (
	"context"
	"encoding"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/hdfive/pkg/engine"
)

// File is an open container handle. Create one with Open; the zero
// value is unusable.
type File struct {
	mu   sync.Mutex
	open bool
	gen  uint64

	session engine.Session
	eng     engine.Engine
	ext     map[string]*File

	uid       uuid.UUID
	path      string
	mode      string
	driver    string
	userblock uint64
	libver    engine.LibverBounds
	strategy  engine.FileSpaceStrategy
}

var (
	_ json.Marshaler           = (*File)(nil)
	_ encoding.BinaryMarshaler = (*File)(nil)
	_ gob.GobEncoder           = (*File)(nil)
)

// Open opens or creates a container and returns its root handle.
//
// The mode token selects the behavior: "r" and "r+" open an existing
// container read-only or read-write, "w" creates one discarding any
// existing content, "w-" and "x" create one failing when the path is
// taken, "a" opens read-write creating the container when missing,
// and "" opens read-write when the write probe allows it, falling
// back to read-only, creating the container when missing.
//
// Parameters:
//   - ctx: Context checked before any driver I/O begins
//   - eng: Storage engine performing probes and opens
//   - path: Container path, interpreted by the selected driver
//   - mode: Mode token, see above
//   - opts: Open options; nil means NewOpenOptions()
//
// Returns:
//   - *File: Open handle owning one engine session
//   - error: *Error classifying the failure; no handle is left behind
func Open(ctx context.Context, eng engine.Engine, path, mode string, opts *OpenOptions) (*File, error) {
	if opts == nil {
		opts = NewOpenOptions()
	} else {
		opts = opts.clone()
	}
	if opts.Driver == "" {
		opts.Driver = DefaultDriver
	}

	libver, err := engine.NormalizeLibver(opts.Libver)
	if err != nil {
		return nil, fromEngine(err)
	}
	strategy, err := engine.NormalizeStrategy(opts.Strategy)
	if err != nil {
		return nil, fromEngine(err)
	}

	cfg := engine.SessionConfig{
		Driver:        opts.Driver,
		DriverOptions: opts.DriverOptions,
		Libver:        libver,
		Strategy:      strategy,
	}
	if opts.Comm != nil {
		if cfg.DriverOptions == nil {
			cfg.DriverOptions = make(map[string]any, 1)
		}
		cfg.DriverOptions["comm"] = opts.Comm
	}

	// Mode "w" never consults the container state, so the probe is
	// skipped and a leftover invalid file is overwritten unseen.
	var info engine.FormatInfo
	if mode != "w" {
		info, err = eng.ProbeFormat(ctx, path, cfg)
		if err != nil {
			return nil, fromEngine(err)
		}
	}
	writable := false
	if mode == "" && info.Exists {
		writable, err = eng.ProbeWritable(ctx, path, cfg)
		if err != nil {
			return nil, fromEngine(err)
		}
	}

	resolved, err := ResolveMode(ModeRequest{
		Mode:            mode,
		Exists:          info.Exists,
		ValidFormat:     info.Valid,
		Writable:        writable,
		StoredUserblock: info.Userblock,
		Options:         opts,
	})
	if err != nil {
		return nil, err
	}
	if !resolved.Create && !opts.Strategy.IsDefault() {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: "file-space strategy can only be set when creating a file",
			Path:    path,
		}
	}
	cfg.Userblock = resolved.Userblock

	var sess engine.Session
	if resolved.Create {
		sess, err = eng.Create(ctx, path, resolved.Exclusive, cfg)
	} else {
		sess, err = eng.Open(ctx, path, resolved.Access, cfg)
	}
	if err != nil {
		return nil, fromEngine(err)
	}

	si := sess.Info()
	return &File{
		open:      true,
		session:   sess,
		eng:       eng,
		uid:       uuid.New(),
		path:      path,
		mode:      resolved.Mode,
		driver:    si.Driver,
		userblock: si.Userblock,
		libver:    si.Libver,
		strategy:  si.Strategy,
	}, nil
}

// Close flushes pending changes, releases the session and invalidates
// every Group and Dataset handle obtained from this File. Files opened
// through external links are closed as well. Closing an already-closed
// File is a no-op.
func (f *File) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.open {
		f.mu.Unlock()
		return nil
	}
	f.open = false
	f.gen++
	ext := f.ext
	f.ext = nil
	f.mu.Unlock()

	err := fromEngine(f.session.Close(ctx))
	for _, ef := range ext {
		if cerr := ef.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Flush persists pending changes. Flushing a clean or read-only File
// is a no-op; flushing a closed File fails.
func (f *File) Flush(ctx context.Context) error {
	sess, err := f.liveSession()
	if err != nil {
		return err
	}
	return fromEngine(sess.Flush(ctx))
}

// IsOpen reports whether the handle is open. Legal on closed handles.
func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

// Mode returns the effective mode label, "r" or "r+".
func (f *File) Mode() string { return f.mode }

// Driver returns the name of the storage driver backing the session.
func (f *File) Driver() string { return f.driver }

// Libver returns the normalized format version bounds.
func (f *File) Libver() engine.LibverBounds { return f.libver }

// UserblockSize returns the size of the caller-owned region at the
// start of the container, zero when there is none.
func (f *File) UserblockSize() uint64 { return f.userblock }

// Filename returns the container path as passed to Open.
func (f *File) Filename() string { return f.path }

// Strategy returns the file-space strategy recorded in the container.
func (f *File) Strategy() engine.FileSpaceStrategy { return f.strategy }

// String implements fmt.Stringer.
func (f *File) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return "<Closed HV5 file>"
	}
	return fmt.Sprintf("<HV5 file %q (mode %s)>", filepath.Base(f.path), f.mode)
}

// ID returns the identifier of this handle tree. The identifier stays
// printable after Close but reports Valid() == false.
func (f *File) ID() Identifier {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Identifier{uid: f.uid, file: f, gen: f.gen}
}

// Atomic reports the write-through flag of the underlying driver.
// Always false on closed handles and on drivers without atomic support.
func (f *File) Atomic() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return false
	}
	return f.session.Atomic()
}

// SetAtomic toggles write-through mode on drivers that support it.
func (f *File) SetAtomic(enable bool) error {
	sess, err := f.liveSession()
	if err != nil {
		return err
	}
	return fromEngine(sess.SetAtomic(enable))
}

// Root returns the root group. The handle is cheap and carries the
// current generation; obtaining it from a closed File yields a handle
// whose operations fail.
func (f *File) Root() *Group {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Group{file: f, gen: f.gen, path: "/"}
}

// ============================================================================
// Root-level convenience forwarders
// ============================================================================

// CreateGroup creates a group directly under the root.
func (f *File) CreateGroup(name string) (*Group, error) {
	return f.Root().CreateGroup(name)
}

// OpenGroup opens a group by name or nested path under the root.
func (f *File) OpenGroup(name string) (*Group, error) {
	return f.Root().OpenGroup(name)
}

// CreateDataset creates a dataset directly under the root.
func (f *File) CreateDataset(name string, spec DatasetSpec) (*Dataset, error) {
	return f.Root().CreateDataset(name, spec)
}

// OpenDataset opens a dataset by name or nested path under the root.
func (f *File) OpenDataset(name string) (*Dataset, error) {
	return f.Root().OpenDataset(name)
}

// SetAttr sets an attribute on the root group.
func (f *File) SetAttr(name string, value AttrValue) error {
	return f.Root().SetAttr(name, value)
}

// Attr reads an attribute of the root group.
func (f *File) Attr(name string) (AttrValue, error) {
	return f.Root().Attr(name)
}

// Attrs lists the attributes of the root group.
func (f *File) Attrs() ([]Attribute, error) {
	return f.Root().Attrs()
}

// Has reports whether the root group has a child at name.
func (f *File) Has(name string) (bool, error) {
	return f.Root().Has(name)
}

// Children lists the names of the root group's children.
func (f *File) Children() ([]string, error) {
	return f.Root().Children()
}

// Delete unlinks a child of the root group.
func (f *File) Delete(name string) error {
	return f.Root().Delete(name)
}

// SetExternalLink stores an external link under the root group.
func (f *File) SetExternalLink(name string, link ExternalLink) error {
	return f.Root().SetExternalLink(name, link)
}

// ResolveLink resolves an external link under the root group.
func (f *File) ResolveLink(ctx context.Context, name string) (*File, error) {
	return f.Root().ResolveLink(ctx, name)
}

// ============================================================================
// Serialization refusal
// ============================================================================

// MarshalJSON implements json.Marshaler. Handles are process-local and
// refuse serialization.
func (f *File) MarshalJSON() ([]byte, error) {
	return nil, f.serializationError()
}

// MarshalBinary implements encoding.BinaryMarshaler. Handles are
// process-local and refuse serialization.
func (f *File) MarshalBinary() ([]byte, error) {
	return nil, f.serializationError()
}

// GobEncode implements gob.GobEncoder. Handles are process-local and
// refuse serialization.
func (f *File) GobEncode() ([]byte, error) {
	return nil, f.serializationError()
}

func (f *File) serializationError() error {
	return &Error{
		Kind:    KindNotSupported,
		Message: "file handles are process-local and cannot be serialized",
		Path:    f.path,
	}
}

// ============================================================================
// Handle-tree helpers
// ============================================================================

// use returns the session when the handle generation is current and
// the File is open.
func (f *File) use(gen uint64) (engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open || f.gen != gen {
		return nil, &Error{Kind: KindInvalidOperation, Message: "file is closed", Path: f.path}
	}
	return f.session, nil
}

// liveSession is use without a generation check, for operations on the
// File itself.
func (f *File) liveSession() (engine.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return nil, &Error{Kind: KindInvalidOperation, Message: "file is closed", Path: f.path}
	}
	return f.session, nil
}

func (f *File) aliveGen(gen uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open && f.gen == gen
}

// externalFile returns the open File for an external link target,
// opening and caching it on first use. The target opens with default
// options and inherits this File's capability: a read-write resolver
// opens the target read-write.
func (f *File) externalFile(ctx context.Context, gen uint64, target string) (*File, error) {
	f.mu.Lock()
	if !f.open || f.gen != gen {
		f.mu.Unlock()
		return nil, &Error{Kind: KindInvalidOperation, Message: "file is closed", Path: f.path}
	}
	if ef, ok := f.ext[target]; ok {
		f.mu.Unlock()
		if ef.IsOpen() {
			return ef, nil
		}
		// The cached handle was closed behind our back; reopen below.
	} else {
		f.mu.Unlock()
	}

	ef, err := Open(ctx, f.eng, target, f.mode, NewOpenOptions())
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	if !f.open || f.gen != gen {
		f.mu.Unlock()
		_ = ef.Close(ctx)
		return nil, &Error{Kind: KindInvalidOperation, Message: "file is closed", Path: f.path}
	}
	if f.ext == nil {
		f.ext = make(map[string]*File)
	}
	f.ext[target] = ef
	f.mu.Unlock()
	return ef, nil
}
