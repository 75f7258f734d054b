package hv5

import (
	"bytes"
	"fmt"

	xdr "github.com/rasky/go-xdr/xdr2"

	"github.com/marmos91/hdfive/pkg/engine"
)

// treeVersion is the serialization version of the object tree payload.
const treeVersion = 1

// Wire codes are stable on-disk values, decoupled from the in-memory
// enumerations.
const (
	wireKindGroup   = 0
	wireKindDataset = 1
	wireKindLink    = 2

	wireAttrString = 0
	wireAttrInt    = 1
	wireAttrFloat  = 2
	wireAttrBytes  = 3
)

// wireTree is the XDR envelope around the serialized object tree.
type wireTree struct {
	Version uint32
	Root    wireObject
}

// wireObject is the XDR form of one tree node. Dataset payloads are not
// inlined; RawOff/RawLen locate them in the raw area.
type wireObject struct {
	Kind     uint32
	Name     string
	Attrs    []wireAttr
	Dtype    string
	Shape    []uint64
	RawOff   uint64
	RawLen   uint64
	LinkFile string
	LinkPath string
	Children []wireObject
}

// wireAttr is the XDR form of one named attribute.
type wireAttr struct {
	Name  string
	Kind  uint32
	Str   string
	Int   int64
	Float float64
	Bytes []byte
}

// rawPlacer assigns raw-area extents to dataset payloads in tree order.
// A nonzero pageSize aligns every extent to a page boundary.
type rawPlacer struct {
	cursor   uint64
	pageSize uint64
	segs     []rawSegment
}

// rawSegment is one placed payload, ready to be written out.
type rawSegment struct {
	off  uint64
	data []byte
}

func (p *rawPlacer) add(data []byte) uint64 {
	if p.pageSize > 0 {
		p.cursor = alignUp(p.cursor, p.pageSize)
	}
	off := p.cursor
	p.cursor += uint64(len(data))
	p.segs = append(p.segs, rawSegment{off: off, data: data})
	return off
}

// alignUp rounds v up to the next multiple of align. align must be a power
// of two.
func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

// toWire converts an object subtree to its wire form, placing dataset
// payloads through the placer.
func toWire(o *engine.Object, placer *rawPlacer) wireObject {
	w := wireObject{
		Kind: kindToWire(o.Kind),
		Name: o.Name,
	}
	for _, a := range o.Attrs {
		w.Attrs = append(w.Attrs, wireAttr{
			Name:  a.Name,
			Kind:  attrKindToWire(a.Value.Kind),
			Str:   a.Value.Str,
			Int:   a.Value.Int,
			Float: a.Value.Float,
			Bytes: a.Value.Bytes,
		})
	}
	switch o.Kind {
	case engine.KindDataset:
		w.Dtype = o.Data.Dtype
		w.Shape = o.Data.Shape
		w.RawLen = uint64(len(o.Data.Raw))
		if w.RawLen > 0 {
			w.RawOff = placer.add(o.Data.Raw)
		}
	case engine.KindLink:
		w.LinkFile = o.Link.FilePath
		w.LinkPath = o.Link.ObjectPath
	}
	for _, c := range o.Children {
		w.Children = append(w.Children, toWire(c, placer))
	}
	return w
}

// fromWire converts a wire subtree back to objects, reading dataset payloads
// through readRaw.
func fromWire(w *wireObject, readRaw func(off, n uint64) ([]byte, error)) (*engine.Object, error) {
	kind, err := kindFromWire(w.Kind)
	if err != nil {
		return nil, err
	}

	o := &engine.Object{
		Kind: kind,
		Name: w.Name,
	}
	for _, a := range w.Attrs {
		attrKind, err := attrKindFromWire(a.Kind)
		if err != nil {
			return nil, err
		}
		o.Attrs = append(o.Attrs, engine.Attribute{
			Name: a.Name,
			Value: engine.AttrValue{
				Kind:  attrKind,
				Str:   a.Str,
				Int:   a.Int,
				Float: a.Float,
				Bytes: a.Bytes,
			},
		})
	}

	switch kind {
	case engine.KindDataset:
		data := &engine.DatasetData{
			Dtype: w.Dtype,
			Shape: w.Shape,
		}
		if w.RawLen > 0 {
			raw, err := readRaw(w.RawOff, w.RawLen)
			if err != nil {
				return nil, fmt.Errorf("dataset %q: %w", w.Name, err)
			}
			data.Raw = raw
		}
		o.Data = data
	case engine.KindLink:
		o.Link = &engine.LinkTarget{
			FilePath:   w.LinkFile,
			ObjectPath: w.LinkPath,
		}
	}

	for i := range w.Children {
		child, err := fromWire(&w.Children[i], readRaw)
		if err != nil {
			return nil, err
		}
		o.Children = append(o.Children, child)
	}
	return o, nil
}

// marshalTree serializes the wire root into the tree payload.
func marshalTree(root wireObject) ([]byte, error) {
	var buf bytes.Buffer
	tree := wireTree{Version: treeVersion, Root: root}
	if _, err := xdr.Marshal(&buf, &tree); err != nil {
		return nil, fmt.Errorf("failed to marshal object tree: %w", err)
	}
	return buf.Bytes(), nil
}

// unmarshalTree parses a tree payload and checks its version.
func unmarshalTree(data []byte) (*wireTree, error) {
	var tree wireTree
	if _, err := xdr.Unmarshal(bytes.NewReader(data), &tree); err != nil {
		return nil, fmt.Errorf("failed to unmarshal object tree: %w", err)
	}
	if tree.Version != treeVersion {
		return nil, fmt.Errorf("unsupported tree version %d", tree.Version)
	}
	return &tree, nil
}

func kindToWire(k engine.ObjectKind) uint32 {
	switch k {
	case engine.KindDataset:
		return wireKindDataset
	case engine.KindLink:
		return wireKindLink
	default:
		return wireKindGroup
	}
}

func kindFromWire(code uint32) (engine.ObjectKind, error) {
	switch code {
	case wireKindGroup:
		return engine.KindGroup, nil
	case wireKindDataset:
		return engine.KindDataset, nil
	case wireKindLink:
		return engine.KindLink, nil
	default:
		return 0, fmt.Errorf("unknown object kind code %d", code)
	}
}

func attrKindToWire(k engine.AttrKind) uint32 {
	switch k {
	case engine.AttrInt:
		return wireAttrInt
	case engine.AttrFloat:
		return wireAttrFloat
	case engine.AttrBytes:
		return wireAttrBytes
	default:
		return wireAttrString
	}
}

func attrKindFromWire(code uint32) (engine.AttrKind, error) {
	switch code {
	case wireAttrString:
		return engine.AttrString, nil
	case wireAttrInt:
		return engine.AttrInt, nil
	case wireAttrFloat:
		return engine.AttrFloat, nil
	case wireAttrBytes:
		return engine.AttrBytes, nil
	default:
		return 0, fmt.Errorf("unknown attribute kind code %d", code)
	}
}
