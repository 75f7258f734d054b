// Package split implements the two-file driver: format metadata and raw
// payload live in sibling files derived from the container path by
// configurable suffixes. The container path itself never exists on disk.
package split

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/driver/sec2"
)

// Default member suffixes, appended to the container path as given.
const (
	DefaultMetaExt = "-m.hv5"
	DefaultRawExt  = "-r.hv5"
)

// Config contains configuration for the split driver.
type Config struct {
	// MetaExt is the suffix of the metadata member file
	MetaExt string `mapstructure:"meta_ext"`

	// RawExt is the suffix of the raw payload member file
	RawExt string `mapstructure:"raw_ext"`
}

// Driver stores each container as a metadata member and a raw member,
// both handled by the sec2 driver.
type Driver struct {
	metaExt string
	rawExt  string
	base    *sec2.Driver
}

// New builds a split driver from per-open options (driver.Factory).
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid split options: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a split driver from a typed config.
func NewWithConfig(cfg Config) (*Driver, error) {
	if cfg.MetaExt == "" {
		cfg.MetaExt = DefaultMetaExt
	}
	if cfg.RawExt == "" {
		cfg.RawExt = DefaultRawExt
	}
	if cfg.MetaExt == cfg.RawExt {
		return nil, fmt.Errorf("meta_ext and raw_ext must differ, both are %q", cfg.MetaExt)
	}

	return &Driver{
		metaExt: cfg.MetaExt,
		rawExt:  cfg.RawExt,
		base:    &sec2.Driver{},
	}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "split"
}

// MetaPath returns the metadata member path for a container path.
func (d *Driver) MetaPath(path string) string {
	return path + d.metaExt
}

// RawPath returns the raw member path for a container path.
func (d *Driver) RawPath(path string) string {
	return path + d.rawExt
}

// Open implements driver.Driver. Both members are opened with the same
// disposition; a failure on the raw member closes the metadata member.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	meta, err := d.base.Open(ctx, d.MetaPath(path), flag)
	if err != nil {
		return nil, err
	}

	raw, err := d.base.Open(ctx, d.RawPath(path), flag)
	if err != nil {
		meta.Close()
		return nil, err
	}

	return &splitFile{meta: meta, raw: raw}, nil
}

// Exists implements driver.Driver. The metadata member decides existence.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	return d.base.Exists(ctx, d.MetaPath(path))
}

// Writable implements driver.Driver.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	return d.base.Writable(ctx, d.MetaPath(path))
}

// splitFile presents the metadata member as the primary extent and hands
// the raw member out through the MetaRaw interface.
type splitFile struct {
	meta driver.File
	raw  driver.File
}

func (s *splitFile) Meta() driver.File { return s.meta }
func (s *splitFile) Raw() driver.File  { return s.raw }

func (s *splitFile) ReadAt(p []byte, off int64) (int, error) {
	return s.meta.ReadAt(p, off)
}

func (s *splitFile) WriteAt(p []byte, off int64) (int, error) {
	return s.meta.WriteAt(p, off)
}

func (s *splitFile) Size() (int64, error) {
	return s.meta.Size()
}

func (s *splitFile) Truncate(size int64) error {
	return s.meta.Truncate(size)
}

func (s *splitFile) Sync() error {
	if err := s.meta.Sync(); err != nil {
		return err
	}
	return s.raw.Sync()
}

func (s *splitFile) Close() error {
	metaErr := s.meta.Close()
	rawErr := s.raw.Close()
	if metaErr != nil {
		return metaErr
	}
	return rawErr
}
