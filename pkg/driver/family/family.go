// Package family implements the member-file driver: the container's byte
// space is striped across fixed-size files named "path.0000", "path.0001"
// and so on. Reads and writes spanning a member boundary are split
// transparently.
package family

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/hdfive/pkg/driver"
)

// DefaultMemberSize is the member size when none is configured.
const DefaultMemberSize = int64(1 << 20)

// Config contains configuration for the family driver.
type Config struct {
	// MemberSize is the fixed size of every member except the last
	MemberSize int64 `mapstructure:"member_size"`
}

// Driver stripes containers over numbered member files.
type Driver struct {
	memberSize int64
}

// New builds a family driver from per-open options (driver.Factory).
func New(ctx context.Context, options map[string]any) (driver.Driver, error) {
	var cfg Config
	if err := mapstructure.Decode(options, &cfg); err != nil {
		return nil, fmt.Errorf("invalid family options: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a family driver from a typed config.
func NewWithConfig(cfg Config) (*Driver, error) {
	if cfg.MemberSize == 0 {
		cfg.MemberSize = DefaultMemberSize
	}
	if cfg.MemberSize < 512 {
		return nil, fmt.Errorf("member_size must be at least 512, got %d", cfg.MemberSize)
	}
	return &Driver{memberSize: cfg.MemberSize}, nil
}

// Name implements driver.Driver.
func (d *Driver) Name() string {
	return "family"
}

// MemberPath returns the path of member i for a container path.
func (d *Driver) MemberPath(path string, i int) string {
	return fmt.Sprintf("%s.%04d", path, i)
}

// Open implements driver.Driver.
func (d *Driver) Open(ctx context.Context, path string, flag driver.OpenFlag) (driver.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exists, err := d.Exists(ctx, path)
	if err != nil {
		return nil, err
	}

	if !exists && !flag.Creates() {
		return nil, os.ErrNotExist
	}
	if exists && flag.Creates() && flag&driver.OpenExclusive != 0 {
		return nil, os.ErrExist
	}

	f := &familyFile{
		path:       path,
		driver:     d,
		ronly:      flag.IsReadOnly(),
		memberSize: d.memberSize,
		members:    make(map[int]*os.File),
	}

	if exists && flag&driver.OpenTruncate != 0 {
		if err := f.removeMembers(0); err != nil {
			return nil, err
		}
		exists = false
	}

	if exists {
		f.size, err = f.scanSize()
		if err != nil {
			return nil, err
		}
	} else {
		// Materialize member 0 so the container is observable immediately.
		if _, err := f.member(0, true); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Exists implements driver.Driver. Member 0 decides existence.
func (d *Driver) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(d.MemberPath(path, 0))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Writable implements driver.Driver.
func (d *Driver) Writable(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	f, err := os.OpenFile(d.MemberPath(path, 0), os.O_WRONLY, 0)
	if err != nil {
		return false, nil
	}
	f.Close()
	return true, nil
}

type familyFile struct {
	path       string
	driver     *Driver
	ronly      bool
	memberSize int64
	size       int64
	members    map[int]*os.File
	closed     bool
}

// scanSize walks the member files and sums their sizes.
func (f *familyFile) scanSize() (int64, error) {
	var total int64
	for i := 0; ; i++ {
		info, err := os.Stat(f.driver.MemberPath(f.path, i))
		if err != nil {
			if os.IsNotExist(err) {
				return total, nil
			}
			return 0, err
		}
		total += info.Size()
	}
}

// member returns the open OS file for member i, opening or creating it on
// first use.
func (f *familyFile) member(i int, create bool) (*os.File, error) {
	if m, ok := f.members[i]; ok {
		return m, nil
	}

	flags := os.O_RDONLY
	if !f.ronly {
		flags = os.O_RDWR
		if create {
			flags |= os.O_CREATE
		}
	}

	m, err := os.OpenFile(f.driver.MemberPath(f.path, i), flags, 0o644)
	if err != nil {
		return nil, err
	}
	f.members[i] = m
	return m, nil
}

// removeMembers deletes member files from index from upward.
func (f *familyFile) removeMembers(from int) error {
	for i := from; ; i++ {
		if m, ok := f.members[i]; ok {
			m.Close()
			delete(f.members, i)
		}
		err := os.Remove(f.driver.MemberPath(f.path, i))
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
	}
}

func (f *familyFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= f.size {
		return 0, io.EOF
	}

	want := len(p)
	if off+int64(want) > f.size {
		want = int(f.size - off)
	}

	done := 0
	for done < want {
		idx := int((off + int64(done)) / f.memberSize)
		within := (off + int64(done)) % f.memberSize
		chunk := min(int64(want-done), f.memberSize-within)

		m, err := f.member(idx, false)
		if err != nil {
			if os.IsNotExist(err) {
				// Hole: logically zero.
				clear(p[done : done+int(chunk)])
				done += int(chunk)
				continue
			}
			return done, err
		}

		n, err := m.ReadAt(p[done:done+int(chunk)], within)
		if err != nil && err != io.EOF {
			return done + n, err
		}
		for i := done + n; i < done+int(chunk); i++ {
			p[i] = 0
		}
		done += int(chunk)
	}

	if want < len(p) {
		return want, io.EOF
	}
	return want, nil
}

func (f *familyFile) WriteAt(p []byte, off int64) (int, error) {
	done := 0
	for done < len(p) {
		idx := int((off + int64(done)) / f.memberSize)
		within := (off + int64(done)) % f.memberSize
		chunk := min(int64(len(p)-done), f.memberSize-within)

		m, err := f.member(idx, true)
		if err != nil {
			return done, err
		}
		if _, err := m.WriteAt(p[done:done+int(chunk)], within); err != nil {
			return done, err
		}
		done += int(chunk)
	}

	if end := off + int64(len(p)); end > f.size {
		if err := f.padMembers(int(f.size/f.memberSize), int((end-1)/f.memberSize)); err != nil {
			return done, err
		}
		f.size = end
	}
	return len(p), nil
}

// padMembers brings members [from, to) up to the full member size. Every
// member except the last must stay at exactly the member size, otherwise
// the container size cannot be recovered by scanning.
func (f *familyFile) padMembers(from, to int) error {
	for i := from; i < to; i++ {
		m, err := f.member(i, true)
		if err != nil {
			return err
		}
		if err := m.Truncate(f.memberSize); err != nil {
			return err
		}
	}
	return nil
}

func (f *familyFile) Size() (int64, error) {
	return f.size, nil
}

func (f *familyFile) Truncate(size int64) error {
	lastIdx := 0
	if size > 0 {
		lastIdx = int((size - 1) / f.memberSize)
	}

	if err := f.padMembers(0, lastIdx); err != nil {
		return err
	}
	last, err := f.member(lastIdx, true)
	if err != nil {
		return err
	}
	if err := last.Truncate(size - int64(lastIdx)*f.memberSize); err != nil {
		return err
	}
	if err := f.removeMembers(lastIdx + 1); err != nil {
		return err
	}

	f.size = size
	return nil
}

func (f *familyFile) Sync() error {
	for _, m := range f.members {
		if err := m.Sync(); err != nil {
			return err
		}
	}
	return nil
}

func (f *familyFile) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	var firstErr error
	for _, m := range f.members {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	f.members = nil
	return firstErr
}
