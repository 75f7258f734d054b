package file

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/driver/core"
	"github.com/marmos91/hdfive/pkg/driver/sec2"
	"github.com/marmos91/hdfive/pkg/driver/split"
	"github.com/marmos91/hdfive/pkg/engine"
	"github.com/marmos91/hdfive/pkg/engine/hv5"
)

// newTestEngine builds the reference engine over the local drivers and
// returns it with a fresh container path.
func newTestEngine(t *testing.T) (engine.Engine, string) {
	t.Helper()

	reg := driver.NewRegistry()
	require.NoError(t, reg.Register("sec2", sec2.New))
	require.NoError(t, reg.Register("core", core.New))
	require.NoError(t, reg.Register("split", split.New))

	return hv5.New(reg), filepath.Join(t.TempDir(), "container.hv5")
}

// mustOpen opens a file and registers a cleanup close.
func mustOpen(t *testing.T, eng engine.Engine, path, mode string, opts *OpenOptions) *File {
	t.Helper()

	f, err := Open(context.Background(), eng, path, mode, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close(context.Background()) })
	return f
}

func TestOpenCreatesWhenMissing(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f, err := Open(ctx, eng, path, "", nil)
	require.NoError(t, err)

	assert.True(t, f.IsOpen())
	assert.Equal(t, "r+", f.Mode())
	assert.Equal(t, "sec2", f.Driver())
	assert.Equal(t, path, f.Filename())
	assert.Equal(t, uint64(0), f.UserblockSize())
	require.NoError(t, f.Close(ctx))

	// The container was persisted at open time, not at close.
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestOpenModeLifecycle(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	w := mustOpen(t, eng, path, "w", nil)
	_, err := w.CreateGroup("left")
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	t.Run("r sees existing content", func(t *testing.T) {
		f := mustOpen(t, eng, path, "r", nil)
		assert.Equal(t, "r", f.Mode())

		names, err := f.Children()
		require.NoError(t, err)
		assert.Equal(t, []string{"left"}, names)

		_, err = f.CreateGroup("right")
		requireKind(t, err, KindPermission)
	})

	t.Run("r+ allows mutation", func(t *testing.T) {
		f := mustOpen(t, eng, path, "r+", nil)
		_, err := f.CreateGroup("right")
		require.NoError(t, err)
		require.NoError(t, f.Close(ctx))
	})

	t.Run("a preserves content", func(t *testing.T) {
		f := mustOpen(t, eng, path, "a", nil)
		has, err := f.Has("left")
		require.NoError(t, err)
		assert.True(t, has)
		has, err = f.Has("right")
		require.NoError(t, err)
		assert.True(t, has)
	})

	t.Run("w- refuses existing container", func(t *testing.T) {
		_, err := Open(ctx, eng, path, "w-", nil)
		requireKind(t, err, KindAlreadyExists)
		_, err = Open(ctx, eng, path, "x", nil)
		requireKind(t, err, KindAlreadyExists)
	})

	t.Run("w discards existing content", func(t *testing.T) {
		f := mustOpen(t, eng, path, "w", nil)
		names, err := f.Children()
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestOpenMissingFile(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	for _, mode := range []string{"r", "r+"} {
		_, err := Open(ctx, eng, path, mode, nil)
		requireKind(t, err, KindNotFound)
	}

	f := mustOpen(t, eng, path, "a", nil)
	assert.Equal(t, "r+", f.Mode())
}

func TestOpenUnknownMode(t *testing.T) {
	eng, path := newTestEngine(t)

	_, err := Open(context.Background(), eng, path, "rw", nil)
	requireKind(t, err, KindInvalidArgument)
}

func TestOpenForeignFile(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, os.WriteFile(path, []byte("not a container at all"), 0o644))

	for _, mode := range []string{"r", "r+", "a", ""} {
		_, err := Open(ctx, eng, path, mode, nil)
		requireKind(t, err, KindFormat)
	}

	// "w" never looks at what is already there.
	f := mustOpen(t, eng, path, "w", nil)
	assert.True(t, f.IsOpen())
}

func TestDefaultModeFallsBackToReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("write probes always succeed for the superuser")
	}

	eng, path := newTestEngine(t)
	ctx := context.Background()

	f, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))
	require.NoError(t, os.Chmod(path, 0o444))
	t.Cleanup(func() { _ = os.Chmod(path, 0o644) })

	ro := mustOpen(t, eng, path, "", nil)
	assert.Equal(t, "r", ro.Mode())

	_, err = ro.CreateGroup("data")
	requireKind(t, err, KindPermission)
}

func TestUserblockLifecycle(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	opts := NewOpenOptions()
	opts.Userblock = 1024

	f, err := Open(ctx, eng, path, "w", opts)
	require.NoError(t, err)
	assert.Equal(t, uint64(1024), f.UserblockSize())
	require.NoError(t, f.Close(ctx))

	t.Run("append with matching size", func(t *testing.T) {
		f := mustOpen(t, eng, path, "a", opts)
		assert.Equal(t, uint64(1024), f.UserblockSize())
	})

	t.Run("append with mismatched size", func(t *testing.T) {
		bad := NewOpenOptions()
		bad.Userblock = 512
		_, err := Open(ctx, eng, path, "a", bad)
		requireKind(t, err, KindInvalidArgument)
	})

	t.Run("zero request reports stored size", func(t *testing.T) {
		f := mustOpen(t, eng, path, "", nil)
		assert.Equal(t, uint64(1024), f.UserblockSize())
	})

	t.Run("rejected on read modes", func(t *testing.T) {
		_, err := Open(ctx, eng, path, "r", opts)
		requireKind(t, err, KindInvalidArgument)
	})
}

func TestOpenRejectsBadUserblockSizes(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	for _, size := range []uint64{128, 513, 1023} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			opts := NewOpenOptions()
			opts.Userblock = size
			_, err := Open(ctx, eng, path, "w", opts)
			requireKind(t, err, KindInvalidArgument)
		})
	}
}

func TestStrategyIsCreateOnly(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	paged := NewOpenOptions()
	paged.Strategy = engine.FileSpaceStrategy{Strategy: engine.StrategyPage, PageSize: 512}

	f, err := Open(ctx, eng, path, "w", paged)
	require.NoError(t, err)
	assert.Equal(t, engine.StrategyPage, f.Strategy().Strategy)
	assert.Equal(t, uint64(512), f.Strategy().PageSize)
	require.NoError(t, f.Close(ctx))

	// Reopening reads the stored strategy back.
	ro := mustOpen(t, eng, path, "r", nil)
	assert.Equal(t, engine.StrategyPage, ro.Strategy().Strategy)

	// Requesting one on a plain open is refused.
	_, err = Open(ctx, eng, path, "r+", paged)
	requireKind(t, err, KindInvalidArgument)
}

func TestCloseIsIdempotent(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)

	require.NoError(t, f.Close(ctx))
	require.NoError(t, f.Close(ctx))
	assert.False(t, f.IsOpen())
}

func TestClosedHandleQueries(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	// Metadata queries stay legal on closed handles.
	assert.False(t, f.IsOpen())
	assert.Equal(t, "r+", f.Mode())
	assert.Equal(t, "sec2", f.Driver())
	assert.Equal(t, path, f.Filename())
	assert.Equal(t, uint64(0), f.UserblockSize())
	assert.Equal(t, engine.LibverEarliest, f.Libver().Low)
	assert.False(t, f.Atomic())

	// Everything else is refused.
	requireKind(t, f.Flush(ctx), KindInvalidOperation)
	_, err = f.CreateGroup("data")
	requireKind(t, err, KindInvalidOperation)
	_, err = f.Children()
	requireKind(t, err, KindInvalidOperation)
	requireKind(t, f.SetAtomic(true), KindInvalidOperation)
}

func TestCloseInvalidatesHandleTree(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)

	g, err := f.CreateGroup("data")
	require.NoError(t, err)
	d, err := g.CreateDataset("values", DatasetSpec{Dtype: "i4", Shape: []uint64{2}})
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	// No handle below the closed root survives.
	_, err = g.CreateGroup("more")
	requireKind(t, err, KindInvalidOperation)
	_, err = g.Children()
	requireKind(t, err, KindInvalidOperation)
	_, err = d.Bytes()
	requireKind(t, err, KindInvalidOperation)
	requireKind(t, d.SetBytes(make([]byte, 8)), KindInvalidOperation)

	// A root group obtained after the close is equally dead.
	_, err = f.Root().Children()
	requireKind(t, err, KindInvalidOperation)
}

func TestIdentifierInvalidation(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	w, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	first := mustOpen(t, eng, path, "r", nil)
	second := mustOpen(t, eng, path, "r", nil)

	firstID := first.ID()
	secondID := second.ID()
	assert.True(t, firstID.Valid())
	assert.True(t, secondID.Valid())
	assert.NotEqual(t, firstID.UUID(), secondID.UUID())

	// Closing one handle invalidates its identifier only.
	require.NoError(t, first.Close(ctx))
	assert.False(t, firstID.Valid())
	assert.True(t, secondID.Valid())

	// The identifier of a group handle follows its root.
	g := second.Root()
	assert.True(t, g.ID().Valid())
	require.NoError(t, second.Close(ctx))
	assert.False(t, g.ID().Valid())
}

func TestStringRepresentation(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)
	assert.Equal(t, `<HV5 file "container.hv5" (mode r+)>`, f.String())
	require.NoError(t, f.Close(ctx))
	assert.Equal(t, "<Closed HV5 file>", f.String())

	ro := mustOpen(t, eng, path, "r", nil)
	assert.Equal(t, `<HV5 file "container.hv5" (mode r)>`, ro.String())
}

func TestHandleRefusesSerialization(t *testing.T) {
	eng, path := newTestEngine(t)

	f := mustOpen(t, eng, path, "w", nil)

	_, err := json.Marshal(f)
	require.Error(t, err)
	requireKind(t, err, KindNotSupported)

	_, err = f.MarshalBinary()
	requireKind(t, err, KindNotSupported)

	var buf bytes.Buffer
	require.Error(t, gob.NewEncoder(&buf).Encode(f))
}

func TestUnicodePaths(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "données_测试.hv5")

	f, err := Open(ctx, eng, path, "w", nil)
	require.NoError(t, err)

	g, err := f.CreateGroup("数据")
	require.NoError(t, err)
	require.NoError(t, g.SetAttr("注释", StringValue("résumé")))
	require.NoError(t, f.Close(ctx))

	ro := mustOpen(t, eng, path, "r", nil)
	got, err := ro.OpenGroup("数据")
	require.NoError(t, err)
	v, err := got.Attr("注释")
	require.NoError(t, err)
	assert.Equal(t, "résumé", v.Str)
}

func TestAtomicUnsupportedOnLocalDriver(t *testing.T) {
	eng, path := newTestEngine(t)

	f := mustOpen(t, eng, path, "w", nil)
	assert.False(t, f.Atomic())
	requireKind(t, f.SetAtomic(true), KindNotSupported)
}

func TestExternalLinkResolution(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.hv5")
	sourcePath := filepath.Join(dir, "source.hv5")

	target, err := Open(ctx, eng, targetPath, "w", nil)
	require.NoError(t, err)
	ds, err := target.CreateDataset("shared", DatasetSpec{Dtype: "u1", Shape: []uint64{3}})
	require.NoError(t, err)
	require.NoError(t, ds.SetBytes([]byte{7, 8, 9}))
	require.NoError(t, target.Close(ctx))

	source, err := Open(ctx, eng, sourcePath, "w", nil)
	require.NoError(t, err)
	defer source.Close(ctx)
	require.NoError(t, source.SetExternalLink("ext", ExternalLink{
		FilePath:   targetPath,
		ObjectPath: "/shared",
	}))

	resolved, err := source.ResolveLink(ctx, "ext")
	require.NoError(t, err)
	assert.True(t, resolved.IsOpen())
	assert.Equal(t, targetPath, resolved.Filename())

	// The resolver was opened read-write, so the target is too.
	assert.Equal(t, "r+", resolved.Mode())

	got, err := resolved.OpenDataset("shared")
	require.NoError(t, err)
	raw, err := got.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{7, 8, 9}, raw)

	// Resolving again reuses the cached handle.
	again, err := source.ResolveLink(ctx, "ext")
	require.NoError(t, err)
	assert.Same(t, resolved, again)

	// Closing the source closes the files it opened.
	require.NoError(t, source.Close(ctx))
	assert.False(t, resolved.IsOpen())
}

func TestExternalLinkCapabilityFollowsResolver(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.hv5")
	sourcePath := filepath.Join(dir, "source.hv5")

	target, err := Open(ctx, eng, targetPath, "w", nil)
	require.NoError(t, err)
	require.NoError(t, target.Close(ctx))

	source, err := Open(ctx, eng, sourcePath, "w", nil)
	require.NoError(t, err)
	require.NoError(t, source.SetExternalLink("ext", ExternalLink{FilePath: targetPath}))
	require.NoError(t, source.Close(ctx))

	ro := mustOpen(t, eng, sourcePath, "r", nil)
	resolved, err := ro.ResolveLink(ctx, "ext")
	require.NoError(t, err)
	assert.Equal(t, "r", resolved.Mode())
}

func TestExternalLinkIndependentClose(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()
	dir := t.TempDir()
	targetPath := filepath.Join(dir, "target.hv5")
	sourcePath := filepath.Join(dir, "source.hv5")

	target, err := Open(ctx, eng, targetPath, "w", nil)
	require.NoError(t, err)
	require.NoError(t, target.Close(ctx))

	source := mustOpen(t, eng, sourcePath, "w", nil)
	require.NoError(t, source.SetExternalLink("ext", ExternalLink{FilePath: targetPath}))

	resolved, err := source.ResolveLink(ctx, "ext")
	require.NoError(t, err)

	// The target handle may close on its own; the resolver survives and
	// a later resolution opens a fresh handle.
	require.NoError(t, resolved.Close(ctx))
	assert.True(t, source.IsOpen())

	fresh, err := source.ResolveLink(ctx, "ext")
	require.NoError(t, err)
	assert.NotSame(t, resolved, fresh)
	assert.True(t, fresh.IsOpen())
}

func TestSameFileLink(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f := mustOpen(t, eng, path, "w", nil)
	_, err := f.CreateGroup("data")
	require.NoError(t, err)
	require.NoError(t, f.SetExternalLink("self", ExternalLink{
		FilePath:   path,
		ObjectPath: "/data",
	}))

	resolved, err := f.ResolveLink(ctx, "self")
	require.NoError(t, err)
	assert.Same(t, f, resolved)
}

func TestResolveLinkErrors(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	f := mustOpen(t, eng, path, "w", nil)
	_, err := f.CreateDataset("plain", DatasetSpec{Dtype: "u1", Shape: []uint64{1}})
	require.NoError(t, err)
	require.NoError(t, f.SetExternalLink("dangling", ExternalLink{
		FilePath: filepath.Join(t.TempDir(), "nowhere.hv5"),
	}))
	require.NoError(t, f.SetExternalLink("self", ExternalLink{
		FilePath:   path,
		ObjectPath: "/missing",
	}))

	_, err = f.ResolveLink(ctx, "plain")
	requireKind(t, err, KindInvalidArgument)

	_, err = f.ResolveLink(ctx, "absent")
	requireKind(t, err, KindNotFound)

	_, err = f.ResolveLink(ctx, "dangling")
	requireKind(t, err, KindNotFound)

	_, err = f.ResolveLink(ctx, "self")
	requireKind(t, err, KindNotFound)
}

func TestOpenWithCoreDriver(t *testing.T) {
	eng, path := newTestEngine(t)
	ctx := context.Background()

	opts := NewOpenOptions()
	opts.Driver = "core"
	opts.DriverOptions = map[string]any{"block_size": 4096}

	f, err := Open(ctx, eng, path, "w", opts)
	require.NoError(t, err)
	assert.Equal(t, "core", f.Driver())
	_, err = f.CreateGroup("data")
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx))

	ro := mustOpen(t, eng, path, "r", opts)
	has, err := ro.Has("data")
	require.NoError(t, err)
	assert.True(t, has)
}
