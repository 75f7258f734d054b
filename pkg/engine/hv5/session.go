package hv5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/engine"
)

// session is one open container. The object tree is decoded eagerly at open
// and mutated in memory; flush rewrites the raw area, the tree and the
// superblock in one pass.
//
// For split containers meta and raw point at the two member files; otherwise
// both alias the container file itself.
type session struct {
	path    string
	drvName string
	file    driver.File
	meta    driver.File
	raw     driver.File
	split   bool

	access    engine.Access
	userblock uint64
	libver    engine.LibverBounds
	strategy  engine.FileSpaceStrategy
	version   uint8

	root    *engine.Object
	dirty   bool
	closed  bool
	metrics EngineMetrics
}

var _ engine.Session = (*session)(nil)

func (s *session) errClosed() error {
	return &engine.Error{Code: engine.ErrSessionClosed, Message: "session is closed", Path: s.path}
}

// writable screens mutations: the session must be open and read-write.
func (s *session) writable() error {
	if s.closed {
		return s.errClosed()
	}
	if s.access != engine.ReadWrite {
		return &engine.Error{Code: engine.ErrReadOnly, Message: "session is read-only", Path: s.path}
	}
	return nil
}

// Root returns the root group of the tree.
func (s *session) Root() *engine.Object {
	return s.root
}

// Lookup resolves an object path from the root.
func (s *session) Lookup(path string) (*engine.Object, error) {
	if s.closed {
		return nil, s.errClosed()
	}
	return s.lookup(path)
}

func (s *session) lookup(path string) (*engine.Object, error) {
	cur := s.root
	for _, name := range engine.SplitPath(path) {
		child, ok := cur.Child(name)
		if !ok {
			return nil, &engine.Error{Code: engine.ErrNotFound, Message: "object not found", Path: path}
		}
		cur = child
	}
	return cur, nil
}

// parentAndLeaf resolves the parent group of path and returns it with the
// leaf name. The path must not name the root and every intermediate must
// already exist.
func (s *session) parentAndLeaf(path string) (*engine.Object, string, error) {
	parts := engine.SplitPath(path)
	if len(parts) == 0 {
		return nil, "", &engine.Error{Code: engine.ErrInvalidArgument, Message: "object path names the root", Path: path}
	}
	parent := s.root
	for _, name := range parts[:len(parts)-1] {
		child, ok := parent.Child(name)
		if !ok {
			return nil, "", &engine.Error{Code: engine.ErrNotFound, Message: "parent group not found", Path: path}
		}
		parent = child
	}
	if parent.Kind != engine.KindGroup {
		return nil, "", &engine.Error{Code: engine.ErrInvalidArgument, Message: "parent is not a group", Path: path}
	}
	return parent, parts[len(parts)-1], nil
}

// CreateGroup creates a group at path. Intermediates are not created.
func (s *session) CreateGroup(path string) (*engine.Object, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	parent, name, err := s.parentAndLeaf(path)
	if err != nil {
		return nil, err
	}
	if _, ok := parent.Child(name); ok {
		return nil, &engine.Error{Code: engine.ErrAlreadyExists, Message: "object already exists", Path: path}
	}

	g := &engine.Object{Kind: engine.KindGroup, Name: name}
	parent.Children = append(parent.Children, g)
	s.dirty = true
	return g, nil
}

// CreateDataset creates a dataset at path. Fixed-size dtypes are allocated
// zero-filled so the dataset reads back as zeros before the first write.
func (s *session) CreateDataset(path string, spec engine.DatasetSpec) (*engine.Object, error) {
	if err := s.writable(); err != nil {
		return nil, err
	}
	if !engine.KnownDtype(spec.Dtype) {
		return nil, &engine.Error{Code: engine.ErrInvalidArgument, Message: fmt.Sprintf("unknown dtype %q", spec.Dtype), Path: path}
	}
	parent, name, err := s.parentAndLeaf(path)
	if err != nil {
		return nil, err
	}
	if _, ok := parent.Child(name); ok {
		return nil, &engine.Error{Code: engine.ErrAlreadyExists, Message: "object already exists", Path: path}
	}

	data := &engine.DatasetData{
		Dtype: spec.Dtype,
		Shape: append([]uint64(nil), spec.Shape...),
	}
	if size := engine.DtypeSize(spec.Dtype); size > 0 {
		data.Raw = make([]byte, data.ElemCount()*size)
	}

	d := &engine.Object{Kind: engine.KindDataset, Name: name, Data: data}
	parent.Children = append(parent.Children, d)
	s.dirty = true
	return d, nil
}

// WriteDataset replaces the payload of the dataset at path.
func (s *session) WriteDataset(path string, data []byte) error {
	if err := s.writable(); err != nil {
		return err
	}
	o, err := s.lookup(path)
	if err != nil {
		return err
	}
	if o.Kind != engine.KindDataset {
		return &engine.Error{Code: engine.ErrInvalidArgument, Message: "object is not a dataset", Path: path}
	}
	if size := engine.DtypeSize(o.Data.Dtype); size > 0 {
		want := o.Data.ElemCount() * size
		if uint64(len(data)) != want {
			return &engine.Error{Code: engine.ErrInvalidArgument, Message: fmt.Sprintf("payload is %d bytes, dataset holds %d", len(data), want), Path: path}
		}
	}

	o.Data.Raw = append([]byte(nil), data...)
	s.dirty = true
	return nil
}

// SetAttribute adds or replaces an attribute on the group or dataset at
// path.
func (s *session) SetAttribute(path, name string, v engine.AttrValue) error {
	if err := s.writable(); err != nil {
		return err
	}
	if name == "" {
		return &engine.Error{Code: engine.ErrInvalidArgument, Message: "empty attribute name", Path: path}
	}
	o, err := s.lookup(path)
	if err != nil {
		return err
	}
	if o.Kind == engine.KindLink {
		return &engine.Error{Code: engine.ErrInvalidArgument, Message: "cannot set attributes on a link", Path: path}
	}

	o.SetAttr(name, v)
	s.dirty = true
	return nil
}

// Remove unlinks the object at path from its parent.
func (s *session) Remove(path string) error {
	if err := s.writable(); err != nil {
		return err
	}
	parent, name, err := s.parentAndLeaf(path)
	if err != nil {
		return err
	}
	for i, c := range parent.Children {
		if c.Name == name {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)
			s.dirty = true
			return nil
		}
	}
	return &engine.Error{Code: engine.ErrNotFound, Message: "object not found", Path: path}
}

// SetLink stores an external link under the group at path.
func (s *session) SetLink(path, name string, target engine.LinkTarget) error {
	if err := s.writable(); err != nil {
		return err
	}
	if name == "" {
		return &engine.Error{Code: engine.ErrInvalidArgument, Message: "empty link name", Path: path}
	}
	if target.FilePath == "" {
		return &engine.Error{Code: engine.ErrInvalidArgument, Message: "empty link target file", Path: path}
	}
	o, err := s.lookup(path)
	if err != nil {
		return err
	}
	if o.Kind != engine.KindGroup {
		return &engine.Error{Code: engine.ErrInvalidArgument, Message: "link parent is not a group", Path: path}
	}
	if _, ok := o.Child(name); ok {
		return &engine.Error{Code: engine.ErrAlreadyExists, Message: fmt.Sprintf("link %q already exists", name), Path: path}
	}
	if target.ObjectPath == "" {
		target.ObjectPath = "/"
	}

	o.Children = append(o.Children, &engine.Object{Kind: engine.KindLink, Name: name, Link: &target})
	s.dirty = true
	return nil
}

// Flush persists pending mutations. Clean and read-only sessions flush as a
// no-op.
func (s *session) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return s.errClosed()
	}
	if s.access != engine.ReadWrite || !s.dirty {
		return nil
	}
	return s.flush(ctx)
}

func (s *session) flush(ctx context.Context) error {
	start := time.Now()
	written, err := s.writeOut(ctx)
	s.metrics.ObserveOperation("flush", time.Since(start), err)
	if err != nil {
		return err
	}
	s.metrics.RecordBytes("written", written)
	s.metrics.RecordObjects("flush", countObjects(s.root))
	s.dirty = false
	return nil
}

// writeOut rewrites the container: dataset payloads into the raw area, then
// the tree, then the superblock, then a truncate to the end-of-file address
// and a sync. The userblock region is never touched.
func (s *session) writeOut(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rawBase := uint64(0)
	if !s.split {
		rawBase = s.userblock + SuperblockSize
	}
	placer := &rawPlacer{cursor: rawBase}
	if s.strategy.Strategy == engine.StrategyPage {
		placer.pageSize = s.strategy.PageSize
	}

	root := toWire(s.root, placer)
	treeBytes, err := marshalTree(root)
	if err != nil {
		return 0, &engine.Error{Code: engine.ErrDriver, Message: err.Error(), Path: s.path}
	}

	rawLen := placer.cursor - rawBase
	treeOff := s.userblock + SuperblockSize
	if !s.split {
		treeOff = placer.cursor
		if placer.pageSize > 0 {
			treeOff = alignUp(treeOff, placer.pageSize)
		}
	}
	eof := treeOff + uint64(len(treeBytes))

	sb := superblock{
		Version:   s.version,
		Strategy:  engine.StrategyCode(s.strategy.Strategy),
		Persist:   s.strategy.Persist,
		Threshold: s.strategy.Threshold,
		PageSize:  s.strategy.PageSize,
		RawLen:    rawLen,
		TreeOff:   treeOff,
		TreeLen:   uint32(len(treeBytes)),
		EOF:       eof,
	}
	if rank, ok := engine.LibverRank(s.libver.Low); ok {
		sb.LibverLow = rank
	}
	if rank, ok := engine.LibverRank(s.libver.High); ok {
		sb.LibverHigh = rank
	}

	var written int64
	for _, seg := range placer.segs {
		n, err := s.raw.WriteAt(seg.data, int64(seg.off))
		written += int64(n)
		if err != nil {
			return written, classify(err, s.path)
		}
	}
	n, err := s.meta.WriteAt(treeBytes, int64(treeOff))
	written += int64(n)
	if err != nil {
		return written, classify(err, s.path)
	}
	n, err = s.meta.WriteAt(sb.encode(), int64(s.userblock))
	written += int64(n)
	if err != nil {
		return written, classify(err, s.path)
	}

	if err := s.meta.Truncate(int64(eof)); err != nil {
		return written, classify(err, s.path)
	}
	if s.split {
		if err := s.raw.Truncate(int64(rawLen)); err != nil {
			return written, classify(err, s.path)
		}
		if err := s.raw.Sync(); err != nil {
			return written, classify(err, s.path)
		}
	}
	if err := s.meta.Sync(); err != nil {
		return written, classify(err, s.path)
	}
	return written, nil
}

// Close flushes dirty writable sessions and releases the driver file.
// Closing twice is a no-op.
func (s *session) Close(ctx context.Context) error {
	if s.closed {
		return nil
	}

	var flushErr error
	if s.access == engine.ReadWrite && s.dirty {
		flushErr = s.flush(ctx)
	}
	s.closed = true

	closeErr := s.file.Close()
	if flushErr != nil {
		return flushErr
	}
	if closeErr != nil {
		return classify(closeErr, s.path)
	}
	return nil
}

// Info returns the immutable description of this session.
func (s *session) Info() engine.SessionInfo {
	return engine.SessionInfo{
		Path:              s.path,
		Driver:            s.drvName,
		ReadWrite:         s.access == engine.ReadWrite,
		Userblock:         s.userblock,
		Libver:            s.libver,
		Strategy:          s.strategy,
		SuperblockVersion: s.version,
	}
}

// Atomic reports the write-through flag of the underlying driver file.
func (s *session) Atomic() bool {
	if a, ok := s.file.(driver.AtomicFile); ok {
		return a.Atomic()
	}
	return false
}

// SetAtomic toggles write-through mode on drivers that support it.
func (s *session) SetAtomic(enable bool) error {
	if s.closed {
		return s.errClosed()
	}
	a, ok := s.file.(driver.AtomicFile)
	if !ok {
		return &engine.Error{Code: engine.ErrUnsupported, Message: "driver does not support atomic mode", Path: s.path}
	}
	a.SetAtomic(enable)
	return nil
}

// loadTree reads and decodes the object tree, pulling dataset payloads from
// the raw extent. It returns the root with the number of bytes read.
func loadTree(meta, raw driver.File, sb superblock, path string) (*engine.Object, int64, error) {
	treeBytes := make([]byte, sb.TreeLen)
	if sb.TreeLen > 0 {
		n, err := meta.ReadAt(treeBytes, int64(sb.TreeOff))
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, 0, classify(err, path)
		}
		if n < int(sb.TreeLen) {
			return nil, 0, &engine.Error{Code: engine.ErrNotFormat, Message: "object tree truncated", Path: path}
		}
	}
	tree, err := unmarshalTree(treeBytes)
	if err != nil {
		return nil, 0, &engine.Error{Code: engine.ErrNotFormat, Message: err.Error(), Path: path}
	}

	read := int64(len(treeBytes))
	readRaw := func(off, n uint64) ([]byte, error) {
		buf := make([]byte, n)
		m, err := raw.ReadAt(buf, int64(off))
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, classify(err, path)
		}
		if m < int(n) {
			return nil, fmt.Errorf("raw data truncated at offset %d", off)
		}
		read += int64(n)
		return buf, nil
	}

	root, err := fromWire(&tree.Root, readRaw)
	if err != nil {
		var ee *engine.Error
		if errors.As(err, &ee) {
			return nil, 0, ee
		}
		return nil, 0, &engine.Error{Code: engine.ErrNotFormat, Message: err.Error(), Path: path}
	}
	if root.Kind != engine.KindGroup {
		return nil, 0, &engine.Error{Code: engine.ErrNotFormat, Message: "root object is not a group", Path: path}
	}
	return root, read, nil
}

func countObjects(o *engine.Object) int64 {
	n := int64(1)
	for _, c := range o.Children {
		n += countObjects(c)
	}
	return n
}
