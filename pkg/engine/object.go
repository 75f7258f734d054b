package engine

import "strings"

// ObjectKind identifies the type of a node in the container tree.
type ObjectKind int

const (
	// KindGroup is an interior node holding named children
	KindGroup ObjectKind = iota

	// KindDataset is a leaf node holding typed raw data
	KindDataset

	// KindLink is a leaf node naming an object in another container
	KindLink
)

func (k ObjectKind) String() string {
	switch k {
	case KindGroup:
		return "group"
	case KindDataset:
		return "dataset"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Object is a node in a session's tree. The root is always a group with an
// empty name. Children are ordered by insertion.
//
// Thread Safety:
// An Object belongs to exactly one session and inherits its synchronization
// contract: callers serialize access externally.
type Object struct {
	// Kind is the node type
	Kind ObjectKind

	// Name is the link name under the parent ("" only for the root)
	Name string

	// Children holds child nodes, insertion-ordered (groups only)
	Children []*Object

	// Attrs holds named scalar attributes, insertion-ordered
	Attrs []Attribute

	// Data is the dataset payload (datasets only)
	Data *DatasetData

	// Link is the external target (links only)
	Link *LinkTarget
}

// Child returns the direct child with the given name.
func (o *Object) Child(name string) (*Object, bool) {
	for _, c := range o.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// ChildNames returns the names of all direct children in order.
func (o *Object) ChildNames() []string {
	names := make([]string, 0, len(o.Children))
	for _, c := range o.Children {
		names = append(names, c.Name)
	}
	return names
}

// Attr returns the attribute with the given name.
func (o *Object) Attr(name string) (AttrValue, bool) {
	for _, a := range o.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return AttrValue{}, false
}

// SetAttr adds or replaces an attribute.
func (o *Object) SetAttr(name string, v AttrValue) {
	for i, a := range o.Attrs {
		if a.Name == name {
			o.Attrs[i].Value = v
			return
		}
	}
	o.Attrs = append(o.Attrs, Attribute{Name: name, Value: v})
}

// Attribute is a named scalar attached to a group or dataset.
type Attribute struct {
	Name  string
	Value AttrValue
}

// AttrKind identifies the scalar type carried by an AttrValue.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrInt
	AttrFloat
	AttrBytes
)

// AttrValue is a tagged scalar attribute value. Exactly the field selected
// by Kind is meaningful.
type AttrValue struct {
	Kind  AttrKind
	Str   string
	Int   int64
	Float float64
	Bytes []byte
}

// StringValue builds a string attribute value.
func StringValue(s string) AttrValue { return AttrValue{Kind: AttrString, Str: s} }

// IntValue builds an integer attribute value.
func IntValue(i int64) AttrValue { return AttrValue{Kind: AttrInt, Int: i} }

// FloatValue builds a float attribute value.
func FloatValue(f float64) AttrValue { return AttrValue{Kind: AttrFloat, Float: f} }

// BytesValue builds an opaque attribute value.
func BytesValue(b []byte) AttrValue { return AttrValue{Kind: AttrBytes, Bytes: b} }

// DatasetSpec describes a dataset to create.
type DatasetSpec struct {
	// Dtype is the element type token: "u1", "i8", "f8" or "bytes"
	Dtype string

	// Shape is the dimension list; empty means scalar
	Shape []uint64
}

// DatasetData is the stored payload of a dataset. Raw holds the elements in
// little-endian order; for "bytes" datasets Raw is the value itself.
type DatasetData struct {
	Dtype string
	Shape []uint64
	Raw   []byte
}

// ElemCount returns the number of elements described by Shape.
func (d *DatasetData) ElemCount() uint64 {
	n := uint64(1)
	for _, dim := range d.Shape {
		n *= dim
	}
	return n
}

// DtypeSize returns the element size in bytes for a dtype token, or 0 for
// variable-size tokens ("bytes") and unknown tokens.
func DtypeSize(dtype string) uint64 {
	switch dtype {
	case "u1", "i1":
		return 1
	case "u2", "i2":
		return 2
	case "u4", "i4", "f4":
		return 4
	case "u8", "i8", "f8":
		return 8
	default:
		return 0
	}
}

// KnownDtype reports whether the dtype token is recognized.
func KnownDtype(dtype string) bool {
	return dtype == "bytes" || DtypeSize(dtype) != 0
}

// LinkTarget names an object in another container file.
type LinkTarget struct {
	// FilePath is the path of the target container on its driver
	FilePath string

	// ObjectPath is the object path inside the target ("/" for its root)
	ObjectPath string
}

// SplitPath splits an object path into its components. Leading and trailing
// separators are ignored; the root path ("/" or "") yields an empty slice.
func SplitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}
