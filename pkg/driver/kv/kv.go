// Package kv implements a BadgerDB-backed driver: container bytes are
// chunked into fixed-size values inside an embedded key-value database.
//
// Key Namespace:
//
//	Data Type   Prefix  Key Format                      Value Type
//	=================================================================
//	Extents     "e:"    e:<path>:<chunk index, BE u64>  chunk bytes
//	Sizes       "s:"    s:<path>                        size (BE u64)
//
// The database directory is locked while a container is open, so one
// database holds at most one open container at a time; probes open the
// database read-only and release it before returning.
package kv

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/hdfive/pkg/driver"
)

// DefaultChunkSize is the extent value size when none is configured.
const DefaultChunkSize = 64 * 1024

// Config contains configuration for the kv driver.
type Config struct {
	// DBPath is the BadgerDB directory; required
	DBPath string `mapstructure:"db_path"`

	// ChunkSize is the extent value size in bytes
	ChunkSize int64 `mapstructure:"chunk_size"`

	// SyncWrites forces Badger to fsync every commit
	SyncWrites bool `mapstructure:"sync_writes"`
}

// Driver stores containers inside a BadgerDB database.
type Driver struct {
	dbPath     string
	chunkSize  int64
	syncWrites bool
}

// New builds a kv driver from per-open options (driver.Factory).
func New(ctx context.Context, opts map[string]any) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(opts, &cfg); err != nil {
		return nil, fmt.Errorf("invalid kv options: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a kv driver from a typed config.
func NewWithConfig(cfg Config) (*Driver, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db_path is required")
	}
	if cfg.ChunkSize < 0 {
		return nil, fmt.Errorf("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}

	return &Driver{
		dbPath:     cfg.DBPath,
		chunkSize:  cfg.ChunkSize,
		syncWrites: cfg.SyncWrites,
	}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "kv"
}

// badgerOptions returns the tuned Badger options for container workloads.
func (d *Driver) badgerOptions(readOnly bool) badger.Options {
	opts := badger.DefaultOptions(d.dbPath)
	opts = opts.WithLoggingLevel(badger.WARNING) // Reduce log noise
	opts = opts.WithCompression(options.None)    // Raw container bytes rarely compress
	opts = opts.WithSyncWrites(d.syncWrites)
	opts = opts.WithReadOnly(readOnly)
	return opts
}

func extentKey(path string, idx uint64) []byte {
	key := make([]byte, 0, 2+len(path)+1+8)
	key = append(key, 'e', ':')
	key = append(key, path...)
	key = append(key, ':')
	key = binary.BigEndian.AppendUint64(key, idx)
	return key
}

func extentPrefix(path string) []byte {
	return []byte("e:" + path + ":")
}

func sizeKey(path string) []byte {
	return []byte("s:" + path)
}

// Open implements driver.Driver.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Badger cannot create a database in read-only mode; a missing
	// database directory means the container does not exist.
	if flag.IsReadOnly() {
		if _, err := os.Stat(d.dbPath); os.IsNotExist(err) {
			return nil, os.ErrNotExist
		}
	}

	db, err := badger.Open(d.badgerOptions(flag.IsReadOnly()))
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", d.dbPath, err)
	}

	size, exists, err := loadSize(db, path)
	if err != nil {
		db.Close()
		return nil, err
	}

	if !exists && !flag.Creates() {
		db.Close()
		return nil, os.ErrNotExist
	}
	if exists && flag.Creates() && flag&driver.OpenExclusive != 0 {
		db.Close()
		return nil, os.ErrExist
	}

	f := &kvFile{
		db:        db,
		path:      path,
		chunkSize: d.chunkSize,
		size:      size,
		ronly:     flag.IsReadOnly(),
	}

	if flag&driver.OpenTruncate != 0 || !exists {
		if err := f.Truncate(0); err != nil {
			db.Close()
			return nil, err
		}
	}

	return f, nil
}

// Exists implements driver.Driver.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	db, err := badger.Open(d.badgerOptions(true))
	if err != nil {
		// No database directory means no containers at all.
		return false, nil
	}
	defer db.Close()

	_, exists, err := loadSize(db, path)
	return exists, err
}

// Writable implements driver.Driver. The database decides: if it can be
// opened for writing the container is writable.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	db, err := badger.Open(d.badgerOptions(false))
	if err != nil {
		return false, nil
	}
	db.Close()
	return true, nil
}

// loadSize reads the stored container size.
func loadSize(db *badger.DB, path string) (int64, bool, error) {
	var size int64
	exists := false

	err := db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(sizeKey(path))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt size record for %s", path)
			}
			size = int64(binary.BigEndian.Uint64(val))
			exists = true
			return nil
		})
	})
	if err != nil {
		return 0, false, err
	}
	return size, exists, nil
}

type kvFile struct {
	db        *badger.DB
	path      string
	chunkSize int64
	size      int64
	ronly     bool
	closed    bool
}

func (f *kvFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}

	want := len(p)
	if off+int64(want) > f.size {
		want = int(f.size - off)
	}

	err := f.db.View(func(txn *badger.Txn) error {
		done := 0
		for done < want {
			idx := uint64((off + int64(done)) / f.chunkSize)
			within := (off + int64(done)) % f.chunkSize
			chunk := min(int64(want-done), f.chunkSize-within)

			item, err := txn.Get(extentKey(f.path, idx))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Hole: logically zero.
					clear(p[done : done+int(chunk)])
					done += int(chunk)
					continue
				}
				return err
			}

			dst := p[done : done+int(chunk)]
			err = item.Value(func(val []byte) error {
				n := 0
				if within < int64(len(val)) {
					n = copy(dst, val[within:])
				}
				clear(dst[n:])
				return nil
			})
			if err != nil {
				return err
			}
			done += int(chunk)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if want < len(p) {
		return want, io.EOF
	}
	return want, nil
}

func (f *kvFile) WriteAt(p []byte, off int64) (int, error) {
	err := f.db.Update(func(txn *badger.Txn) error {
		done := 0
		for done < len(p) {
			idx := uint64((off + int64(done)) / f.chunkSize)
			within := (off + int64(done)) % f.chunkSize
			chunk := min(int64(len(p)-done), f.chunkSize-within)

			// Read-modify-write the affected chunk.
			buf := make([]byte, f.chunkSize)
			if item, err := txn.Get(extentKey(f.path, idx)); err == nil {
				if err := item.Value(func(val []byte) error {
					copy(buf, val)
					return nil
				}); err != nil {
					return err
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}

			copy(buf[within:], p[done:done+int(chunk)])
			if err := txn.Set(extentKey(f.path, idx), buf); err != nil {
				return err
			}
			done += int(chunk)
		}

		if end := off + int64(len(p)); end > f.size {
			return storeSize(txn, f.path, end)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if end := off + int64(len(p)); end > f.size {
		f.size = end
	}
	return len(p), nil
}

func storeSize(txn *badger.Txn, path string, size int64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, uint64(size))
	return txn.Set(sizeKey(path), val)
}

func (f *kvFile) Size() (int64, error) {
	return f.size, nil
}

func (f *kvFile) Truncate(size int64) error {
	err := f.db.Update(func(txn *badger.Txn) error {
		lastKeep := uint64(0)
		if size > 0 {
			lastKeep = uint64((size - 1) / f.chunkSize)
		}

		// Drop extents past the new end.
		it := txn.NewIterator(badger.IteratorOptions{Prefix: extentPrefix(f.path)})
		var stale [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			if len(key) < 8 {
				continue
			}
			idx := binary.BigEndian.Uint64(key[len(key)-8:])
			if size == 0 || idx > lastKeep {
				stale = append(stale, key)
			}
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}

		// Zero the tail of the boundary chunk.
		if size > 0 && size%f.chunkSize != 0 {
			within := size % f.chunkSize
			if item, err := txn.Get(extentKey(f.path, lastKeep)); err == nil {
				buf := make([]byte, f.chunkSize)
				if err := item.Value(func(val []byte) error {
					copy(buf, val)
					return nil
				}); err != nil {
					return err
				}
				clear(buf[within:])
				if err := txn.Set(extentKey(f.path, lastKeep), buf); err != nil {
					return err
				}
			} else if err != badger.ErrKeyNotFound {
				return err
			}
		}

		return storeSize(txn, f.path, size)
	})
	if err != nil {
		return err
	}

	f.size = size
	return nil
}

func (f *kvFile) Sync() error {
	if f.ronly {
		return nil
	}
	return f.db.Sync()
}

func (f *kvFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.db.Close()
}
