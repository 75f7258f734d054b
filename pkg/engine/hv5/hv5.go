// Package hv5 implements the container storage engine: a binary format
// with a fixed-size superblock, an XDR-serialized object tree and a raw
// data area, laid over pluggable byte-level drivers.
//
// Container layout:
//
//	[userblock][superblock][raw area][object tree]
//
// The tree is decoded eagerly at open; mutations stay in memory until
// Flush rewrites the raw area, the tree and the superblock. Drivers that
// expose separate metadata and raw channels (split) keep the raw area in
// the raw member, starting at offset zero.
package hv5

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/engine"
)

// DefaultDriver is the driver used when a session config names none.
const DefaultDriver = "sec2"

// Engine opens, creates and probes containers through a driver registry.
//
// Thread Safety:
// Engine methods are safe for concurrent use; the registry is not mutated
// after construction. Sessions are confined to their owner.
type Engine struct {
	registry *driver.Registry
	metrics  EngineMetrics
}

var _ engine.Engine = (*Engine)(nil)

// New creates an engine over the given driver registry.
func New(registry *driver.Registry) *Engine {
	return NewWithMetrics(registry, nil)
}

// NewWithMetrics creates an engine with a metrics collector. A nil
// collector disables metrics collection.
func NewWithMetrics(registry *driver.Registry, metrics EngineMetrics) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{registry: registry, metrics: metrics}
}

// Open opens an existing container.
func (e *Engine) Open(ctx context.Context, path string, access engine.Access, cfg engine.SessionConfig) (engine.Session, error) {
	start := time.Now()
	s, err := e.open(ctx, path, access, cfg)
	e.metrics.ObserveOperation("open", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) open(ctx context.Context, path string, access engine.Access, cfg engine.SessionConfig) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	drvName, drv, err := e.newDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	flag := driver.OpenRead
	if access == engine.ReadWrite {
		flag |= driver.OpenWrite
	}
	f, err := drv.Open(ctx, path, flag)
	if err != nil {
		return nil, classify(err, path)
	}

	s, err := e.loadSession(f, path, drvName, access, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// loadSession decodes the container behind an open driver file into a
// session.
func (e *Engine) loadSession(f driver.File, path, drvName string, access engine.Access, cfg engine.SessionConfig) (*session, error) {
	meta, raw, split := metaRaw(f)

	userblock, found, err := findSignature(meta)
	if err != nil {
		return nil, classify(err, path)
	}
	if !found {
		return nil, &engine.Error{Code: engine.ErrNotFormat, Message: "no container signature found", Path: path}
	}
	if cfg.Userblock != 0 && cfg.Userblock != userblock {
		return nil, &engine.Error{
			Code:    engine.ErrInvalidArgument,
			Message: fmt.Sprintf("userblock size mismatch: requested %d, stored %d", cfg.Userblock, userblock),
			Path:    path,
		}
	}

	buf := make([]byte, SuperblockSize)
	n, err := meta.ReadAt(buf, int64(userblock))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, classify(err, path)
	}
	sb, err := decodeSuperblock(buf[:n])
	if err != nil {
		return nil, &engine.Error{Code: engine.ErrNotFormat, Message: err.Error(), Path: path}
	}

	size, err := meta.Size()
	if err != nil {
		return nil, classify(err, path)
	}
	if sb.EOF > uint64(size) {
		return nil, &engine.Error{
			Code:    engine.ErrNotFormat,
			Message: fmt.Sprintf("container truncated: end-of-file address %d beyond size %d", sb.EOF, size),
			Path:    path,
		}
	}
	if split {
		rawSize, err := raw.Size()
		if err != nil {
			return nil, classify(err, path)
		}
		if sb.RawLen > uint64(rawSize) {
			return nil, &engine.Error{Code: engine.ErrNotFormat, Message: "raw data truncated", Path: path}
		}
	}

	root, read, err := loadTree(meta, raw, sb, path)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordBytes("read", read)
	e.metrics.RecordObjects("open", countObjects(root))

	return &session{
		path:      path,
		drvName:   drvName,
		file:      f,
		meta:      meta,
		raw:       raw,
		split:     split,
		access:    access,
		userblock: userblock,
		libver: engine.LibverBounds{
			Low:  engine.LibverForVersion(sb.LibverLow),
			High: engine.LibverForVersion(sb.LibverHigh),
		},
		strategy: engine.FileSpaceStrategy{
			Strategy:  engine.StrategyToken(sb.Strategy),
			Persist:   sb.Persist,
			Threshold: sb.Threshold,
			PageSize:  sb.PageSize,
		},
		version: sb.Version,
		root:    root,
		metrics: e.metrics,
	}, nil
}

// Create creates a new container and persists its empty root group.
func (e *Engine) Create(ctx context.Context, path string, exclusive bool, cfg engine.SessionConfig) (engine.Session, error) {
	start := time.Now()
	s, err := e.create(ctx, path, exclusive, cfg)
	e.metrics.ObserveOperation("create", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *Engine) create(ctx context.Context, path string, exclusive bool, cfg engine.SessionConfig) (*session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := validateUserblock(cfg.Userblock); err != nil {
		return nil, err
	}
	libver, err := engine.NormalizeLibver(cfg.Libver)
	if err != nil {
		return nil, err
	}
	strategy, err := engine.NormalizeStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	drvName, drv, err := e.newDriver(ctx, cfg)
	if err != nil {
		return nil, err
	}

	flag := driver.OpenRead | driver.OpenWrite | driver.OpenCreate
	if exclusive {
		flag |= driver.OpenExclusive
	} else {
		flag |= driver.OpenTruncate
	}
	f, err := drv.Open(ctx, path, flag)
	if err != nil {
		return nil, classify(err, path)
	}

	meta, raw, split := metaRaw(f)
	s := &session{
		path:      path,
		drvName:   drvName,
		file:      f,
		meta:      meta,
		raw:       raw,
		split:     split,
		access:    engine.ReadWrite,
		userblock: cfg.Userblock,
		libver:    libver,
		strategy:  strategy,
		version:   engine.SuperblockVersion(libver),
		root:      &engine.Object{Kind: engine.KindGroup},
		dirty:     true,
		metrics:   e.metrics,
	}

	// Persist the empty root immediately so the container is observable
	// before the first explicit flush.
	if err := s.flush(ctx); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

// ProbeFormat inspects the container without opening a session.
func (e *Engine) ProbeFormat(ctx context.Context, path string, cfg engine.SessionConfig) (engine.FormatInfo, error) {
	start := time.Now()
	info, err := e.probeFormat(ctx, path, cfg)
	e.metrics.ObserveOperation("probe_format", time.Since(start), err)
	return info, err
}

func (e *Engine) probeFormat(ctx context.Context, path string, cfg engine.SessionConfig) (engine.FormatInfo, error) {
	if err := ctx.Err(); err != nil {
		return engine.FormatInfo{}, err
	}

	_, drv, err := e.newDriver(ctx, cfg)
	if err != nil {
		return engine.FormatInfo{}, err
	}

	exists, err := drv.Exists(ctx, path)
	if err != nil {
		return engine.FormatInfo{}, classify(err, path)
	}
	if !exists {
		return engine.FormatInfo{}, nil
	}

	f, err := drv.Open(ctx, path, driver.OpenRead)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return engine.FormatInfo{}, nil
		}
		return engine.FormatInfo{}, classify(err, path)
	}
	defer f.Close()

	meta, _, _ := metaRaw(f)
	info := engine.FormatInfo{Exists: true}

	userblock, found, err := findSignature(meta)
	if err != nil {
		return info, classify(err, path)
	}
	if !found {
		return info, nil
	}

	buf := make([]byte, SuperblockSize)
	n, err := meta.ReadAt(buf, int64(userblock))
	if err != nil && !errors.Is(err, io.EOF) {
		return info, classify(err, path)
	}
	sb, err := decodeSuperblock(buf[:n])
	if err != nil {
		return info, nil
	}

	info.Valid = true
	info.Userblock = userblock
	info.Version = sb.Version
	return info, nil
}

// ProbeWritable reports whether the container could be opened for writing.
func (e *Engine) ProbeWritable(ctx context.Context, path string, cfg engine.SessionConfig) (bool, error) {
	start := time.Now()
	ok, err := e.probeWritable(ctx, path, cfg)
	e.metrics.ObserveOperation("probe_writable", time.Since(start), err)
	return ok, err
}

func (e *Engine) probeWritable(ctx context.Context, path string, cfg engine.SessionConfig) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, drv, err := e.newDriver(ctx, cfg)
	if err != nil {
		return false, err
	}
	ok, err := drv.Writable(ctx, path)
	if err != nil {
		return false, classify(err, path)
	}
	return ok, nil
}

// newDriver builds the driver named by the config. Factory failures are
// configuration problems and classified as invalid arguments.
func (e *Engine) newDriver(ctx context.Context, cfg engine.SessionConfig) (string, driver.Driver, error) {
	name := cfg.Driver
	if name == "" {
		name = DefaultDriver
	}
	drv, err := e.registry.New(ctx, name, cfg.DriverOptions)
	if err != nil {
		return "", nil, &engine.Error{Code: engine.ErrInvalidArgument, Message: err.Error()}
	}
	return name, drv, nil
}

// metaRaw resolves the metadata and raw channels of a driver file. Both
// alias the file itself unless the driver splits them.
func metaRaw(f driver.File) (meta, raw driver.File, split bool) {
	if mr, ok := f.(driver.MetaRaw); ok {
		return mr.Meta(), mr.Raw(), true
	}
	return f, f, false
}

// validateUserblock enforces the create-time userblock size rule: zero or a
// power of two of at least 512 bytes, small enough for the signature scan
// to find again.
func validateUserblock(size uint64) error {
	if size == 0 {
		return nil
	}
	if size < 512 || size&(size-1) != 0 {
		return &engine.Error{
			Code:    engine.ErrInvalidArgument,
			Message: fmt.Sprintf("userblock size must be zero or a power of two >= 512, got %d", size),
		}
	}
	if size > maxSignatureOffset {
		return &engine.Error{
			Code:    engine.ErrInvalidArgument,
			Message: fmt.Sprintf("userblock size %d exceeds the maximum of %d", size, uint64(maxSignatureOffset)),
		}
	}
	return nil
}

// classify maps raw driver errors onto engine error codes. Drivers return
// untranslated os errors; this is the single point where they enter the
// engine taxonomy.
func classify(err error, path string) error {
	var ee *engine.Error
	if errors.As(err, &ee) {
		return ee
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &engine.Error{Code: engine.ErrNotFound, Message: "container does not exist", Path: path}
	case errors.Is(err, os.ErrExist):
		return &engine.Error{Code: engine.ErrAlreadyExists, Message: "container already exists", Path: path}
	case errors.Is(err, os.ErrPermission):
		return &engine.Error{Code: engine.ErrPermission, Message: "permission denied", Path: path}
	default:
		return &engine.Error{Code: engine.ErrDriver, Message: err.Error(), Path: path}
	}
}
