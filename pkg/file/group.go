package file

import (
	"context"
	"fmt"
	"strings"

	"github.com/marmos91/hdfive/pkg/engine"
)

// The object model is shared with the engine; the file layer re-exports
// the caller-facing pieces under its own names.
type (
	// Attribute is a named attribute attached to a group or dataset.
	Attribute = engine.Attribute

	// AttrValue is a tagged scalar attribute value.
	AttrValue = engine.AttrValue

	// DatasetSpec describes a dataset to create.
	DatasetSpec = engine.DatasetSpec

	// ExternalLink names an object in another container file.
	ExternalLink = engine.LinkTarget
)

// StringValue builds a string attribute value.
func StringValue(s string) AttrValue { return engine.StringValue(s) }

// IntValue builds an integer attribute value.
func IntValue(i int64) AttrValue { return engine.IntValue(i) }

// FloatValue builds a float attribute value.
func FloatValue(f float64) AttrValue { return engine.FloatValue(f) }

// BytesValue builds an opaque bytes attribute value.
func BytesValue(b []byte) AttrValue { return engine.BytesValue(b) }

// Group is a handle on a group inside an open File. It stays bound to
// the File it came from: once that File closes, every operation fails.
type Group struct {
	file *File
	gen  uint64
	path string
}

// Name returns the last component of the group path, "/" for the root.
func (g *Group) Name() string {
	if g.path == "/" {
		return "/"
	}
	return g.path[strings.LastIndexByte(g.path, '/')+1:]
}

// Path returns the absolute object path of the group.
func (g *Group) Path() string { return g.path }

// File returns the root File this handle belongs to.
func (g *Group) File() *File { return g.file }

// ID returns the identifier of the owning handle tree.
func (g *Group) ID() Identifier { return g.file.ID() }

// CreateGroup creates a child group. The name must be a single path
// component; intermediate groups are not created.
func (g *Group) CreateGroup(name string) (*Group, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	sess, err := g.file.use(g.gen)
	if err != nil {
		return nil, err
	}
	p := joinPath(g.path, name)
	if _, err := sess.CreateGroup(p); err != nil {
		return nil, fromEngine(err)
	}
	return &Group{file: g.file, gen: g.gen, path: p}, nil
}

// OpenGroup opens a child group. The name may be a nested path such as
// "a/b".
func (g *Group) OpenGroup(name string) (*Group, error) {
	o, p, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	if o.Kind != engine.KindGroup {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("object is a %s, not a group", o.Kind),
			Path:    p,
		}
	}
	return &Group{file: g.file, gen: g.gen, path: p}, nil
}

// CreateDataset creates a child dataset. The name must be a single
// path component.
func (g *Group) CreateDataset(name string, spec DatasetSpec) (*Dataset, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	sess, err := g.file.use(g.gen)
	if err != nil {
		return nil, err
	}
	p := joinPath(g.path, name)
	if _, err := sess.CreateDataset(p, spec); err != nil {
		return nil, fromEngine(err)
	}
	return &Dataset{file: g.file, gen: g.gen, path: p}, nil
}

// OpenDataset opens a child dataset. The name may be a nested path.
func (g *Group) OpenDataset(name string) (*Dataset, error) {
	o, p, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	if o.Kind != engine.KindDataset {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("object is a %s, not a dataset", o.Kind),
			Path:    p,
		}
	}
	return &Dataset{file: g.file, gen: g.gen, path: p}, nil
}

// SetAttr adds or replaces a named attribute on this group.
func (g *Group) SetAttr(name string, value AttrValue) error {
	sess, err := g.file.use(g.gen)
	if err != nil {
		return err
	}
	return fromEngine(sess.SetAttribute(g.path, name, value))
}

// Attr reads a named attribute of this group.
func (g *Group) Attr(name string) (AttrValue, error) {
	o, _, err := g.lookup("")
	if err != nil {
		return AttrValue{}, err
	}
	v, ok := o.Attr(name)
	if !ok {
		return AttrValue{}, &Error{
			Kind:    KindNotFound,
			Message: fmt.Sprintf("attribute %q not found", name),
			Path:    g.path,
		}
	}
	return v, nil
}

// Attrs returns the attributes of this group in insertion order.
func (g *Group) Attrs() ([]Attribute, error) {
	o, _, err := g.lookup("")
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, len(o.Attrs))
	copy(out, o.Attrs)
	return out, nil
}

// Has reports whether a child exists at name. The name may be a nested
// path; a missing child is not an error.
func (g *Group) Has(name string) (bool, error) {
	_, _, err := g.lookup(name)
	if err != nil {
		if IsKind(err, KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Children returns the names of the direct children of this group.
func (g *Group) Children() ([]string, error) {
	o, _, err := g.lookup("")
	if err != nil {
		return nil, err
	}
	return o.ChildNames(), nil
}

// Delete unlinks the child at name, together with everything below it.
func (g *Group) Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	sess, err := g.file.use(g.gen)
	if err != nil {
		return err
	}
	return fromEngine(sess.Remove(joinPath(g.path, name)))
}

// SetExternalLink stores a link named name pointing at an object in
// another container file.
func (g *Group) SetExternalLink(name string, link ExternalLink) error {
	if err := validName(name); err != nil {
		return err
	}
	sess, err := g.file.use(g.gen)
	if err != nil {
		return err
	}
	return fromEngine(sess.SetLink(g.path, name, link))
}

// ResolveLink resolves the external link at name and returns the root
// handle of the target container. Targets in other files are opened
// with default options at this File's capability and cached on the
// File, which closes them on its own Close. A link back into this
// File's own container returns this File.
//
// The target object named by the link is verified to exist; the
// returned File is the container root, from which the caller navigates.
func (g *Group) ResolveLink(ctx context.Context, name string) (*File, error) {
	o, p, err := g.lookup(name)
	if err != nil {
		return nil, err
	}
	if o.Kind != engine.KindLink || o.Link == nil {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("object is a %s, not a link", o.Kind),
			Path:    p,
		}
	}
	target := *o.Link

	if target.FilePath == g.file.path {
		if target.ObjectPath != "/" {
			sess, err := g.file.liveSession()
			if err != nil {
				return nil, err
			}
			if _, err := sess.Lookup(target.ObjectPath); err != nil {
				return nil, fromEngine(err)
			}
		}
		return g.file, nil
	}

	ef, err := g.file.externalFile(ctx, g.gen, target.FilePath)
	if err != nil {
		return nil, err
	}
	if target.ObjectPath != "/" {
		sess, err := ef.liveSession()
		if err != nil {
			return nil, err
		}
		if _, err := sess.Lookup(target.ObjectPath); err != nil {
			return nil, fromEngine(err)
		}
	}
	return ef, nil
}

// lookup resolves name relative to this group, returning the object
// and its absolute path. An empty name resolves the group itself.
func (g *Group) lookup(name string) (*engine.Object, string, error) {
	sess, err := g.file.use(g.gen)
	if err != nil {
		return nil, "", err
	}
	p := g.path
	if name != "" {
		p = joinPath(g.path, name)
	}
	o, err := sess.Lookup(p)
	if err != nil {
		return nil, "", fromEngine(err)
	}
	return o, p, nil
}

// validName rejects empty names and names containing a path separator.
func validName(name string) error {
	if name == "" {
		return &Error{Kind: KindInvalidArgument, Message: "name must not be empty"}
	}
	if strings.ContainsRune(name, '/') {
		return &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("name %q must not contain '/'", name),
		}
	}
	return nil
}

// joinPath appends a name or nested path to an absolute group path.
func joinPath(base, name string) string {
	name = strings.Trim(name, "/")
	if base == "/" || base == "" {
		return "/" + name
	}
	return base + "/" + name
}
