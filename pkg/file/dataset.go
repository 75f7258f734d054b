package file

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/marmos91/hdfive/pkg/engine"
)

// Dataset is a handle on a dataset inside an open File.
type Dataset struct {
	file *File
	gen  uint64
	path string
}

// Name returns the last component of the dataset path.
func (d *Dataset) Name() string {
	return d.path[strings.LastIndexByte(d.path, '/')+1:]
}

// Path returns the absolute object path of the dataset.
func (d *Dataset) Path() string { return d.path }

// File returns the root File this handle belongs to.
func (d *Dataset) File() *File { return d.file }

// ID returns the identifier of the owning handle tree.
func (d *Dataset) ID() Identifier { return d.file.ID() }

// Shape returns a copy of the dataset shape.
func (d *Dataset) Shape() ([]uint64, error) {
	data, err := d.data()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(data.Shape))
	copy(out, data.Shape)
	return out, nil
}

// Dtype returns the dtype token of the dataset.
func (d *Dataset) Dtype() (string, error) {
	data, err := d.data()
	if err != nil {
		return "", err
	}
	return data.Dtype, nil
}

// Bytes returns a copy of the raw payload.
func (d *Dataset) Bytes() ([]byte, error) {
	data, err := d.data()
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), data.Raw...), nil
}

// SetBytes replaces the raw payload. For fixed-size dtypes the length
// must match the dataset's element count.
func (d *Dataset) SetBytes(p []byte) error {
	sess, err := d.file.use(d.gen)
	if err != nil {
		return err
	}
	return fromEngine(sess.WriteDataset(d.path, p))
}

// Fill overwrites every byte of the payload with b, keeping the
// current length.
func (d *Dataset) Fill(b byte) error {
	data, err := d.data()
	if err != nil {
		return err
	}
	sess, err := d.file.use(d.gen)
	if err != nil {
		return err
	}
	return fromEngine(sess.WriteDataset(d.path, bytes.Repeat([]byte{b}, len(data.Raw))))
}

// SetAttr adds or replaces a named attribute on this dataset.
func (d *Dataset) SetAttr(name string, value AttrValue) error {
	sess, err := d.file.use(d.gen)
	if err != nil {
		return err
	}
	return fromEngine(sess.SetAttribute(d.path, name, value))
}

// Attr reads a named attribute of this dataset.
func (d *Dataset) Attr(name string) (AttrValue, error) {
	o, err := d.object()
	if err != nil {
		return AttrValue{}, err
	}
	v, ok := o.Attr(name)
	if !ok {
		return AttrValue{}, &Error{
			Kind:    KindNotFound,
			Message: fmt.Sprintf("attribute %q not found", name),
			Path:    d.path,
		}
	}
	return v, nil
}

// Attrs returns the attributes of this dataset in insertion order.
func (d *Dataset) Attrs() ([]Attribute, error) {
	o, err := d.object()
	if err != nil {
		return nil, err
	}
	out := make([]Attribute, len(o.Attrs))
	copy(out, o.Attrs)
	return out, nil
}

func (d *Dataset) object() (*engine.Object, error) {
	sess, err := d.file.use(d.gen)
	if err != nil {
		return nil, err
	}
	o, err := sess.Lookup(d.path)
	if err != nil {
		return nil, fromEngine(err)
	}
	if o.Kind != engine.KindDataset {
		return nil, &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("object is a %s, not a dataset", o.Kind),
			Path:    d.path,
		}
	}
	return o, nil
}

func (d *Dataset) data() (*engine.DatasetData, error) {
	o, err := d.object()
	if err != nil {
		return nil, err
	}
	if o.Data == nil {
		return &engine.DatasetData{}, nil
	}
	return o.Data, nil
}
