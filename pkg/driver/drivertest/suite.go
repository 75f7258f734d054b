// Package drivertest provides a conformance test suite for driver
// implementations. It tests the interface contract, not implementation
// details, so every driver package runs the same suite against its own
// factory.
package drivertest

import (
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/hdfive/pkg/driver"
)

// Suite is a conformance test suite for driver.Driver implementations.
type Suite struct {
	// NewDriver is a factory that creates a fresh driver instance for each
	// test. Drivers with on-disk state should anchor it under test.TempDir()
	// so tests stay isolated.
	NewDriver func(test *testing.T) driver.Driver

	// NewPath returns a fresh container path for each test. The container
	// must not exist yet.
	NewPath func(test *testing.T) string

	// Persistent marks drivers whose containers survive close and reopen.
	// Memory-only drivers leave this false, which skips reopen checks and
	// the probes that read through to stable storage.
	Persistent bool
}

// Run executes all tests in the suite.
func (suite *Suite) Run(test *testing.T) {
	test.Run("OpenMissing", suite.TestOpenMissing)
	test.Run("CreateAndSize", suite.TestCreateAndSize)
	test.Run("ReadWriteRoundTrip", suite.TestReadWriteRoundTrip)
	test.Run("SparseWriteZeroFill", suite.TestSparseWriteZeroFill)
	test.Run("ReadAtEndOfFile", suite.TestReadAtEndOfFile)
	test.Run("TruncateShrinkExtend", suite.TestTruncateShrinkExtend)
	test.Run("TruncateOnOpen", suite.TestTruncateOnOpen)
	test.Run("ExclusiveCreate", suite.TestExclusiveCreate)
	test.Run("Persistence", suite.TestPersistence)
	test.Run("Probes", suite.TestProbes)
}

// pattern fills a buffer with a deterministic byte sequence so reads can
// verify both content and position.
func pattern(n int, seed byte) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(int(seed) + i*7)
	}
	return buf
}

// TestOpenMissing verifies that opening a container that does not exist
// fails with os.ErrNotExist unless creation is requested.
func (suite *Suite) TestOpenMissing(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	_, err := drv.Open(ctx, path, driver.OpenRead)
	require.Error(test, err)
	assert.ErrorIs(test, err, os.ErrNotExist)

	_, err = drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite)
	require.Error(test, err)
	assert.ErrorIs(test, err, os.ErrNotExist)
}

// TestCreateAndSize verifies container creation and size accounting.
func (suite *Suite) TestCreateAndSize(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	defer f.Close()

	size, err := f.Size()
	require.NoError(test, err)
	assert.Equal(test, int64(0), size, "fresh container should be empty")

	data := pattern(100, 1)
	n, err := f.WriteAt(data, 0)
	require.NoError(test, err)
	require.Equal(test, len(data), n)

	size, err = f.Size()
	require.NoError(test, err)
	assert.Equal(test, int64(100), size)

	require.NoError(test, f.Close())
}

// TestReadWriteRoundTrip verifies that written bytes read back intact,
// including after a partial overwrite.
func (suite *Suite) TestReadWriteRoundTrip(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	defer f.Close()

	data := pattern(1000, 3)
	_, err = f.WriteAt(data, 0)
	require.NoError(test, err)

	got := make([]byte, 1000)
	n, err := f.ReadAt(got, 0)
	require.NoError(test, err)
	require.Equal(test, 1000, n)
	assert.Equal(test, data, got)

	// Overwrite the middle and read the merged result back.
	patch := pattern(100, 200)
	_, err = f.WriteAt(patch, 450)
	require.NoError(test, err)

	n, err = f.ReadAt(got, 0)
	require.NoError(test, err)
	require.Equal(test, 1000, n)
	assert.Equal(test, data[:450], got[:450])
	assert.Equal(test, patch, got[450:550])
	assert.Equal(test, data[550:], got[550:])
}

// TestSparseWriteZeroFill verifies that the gap before a write beyond the
// current end reads back as zeros.
func (suite *Suite) TestSparseWriteZeroFill(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	defer f.Close()

	data := pattern(100, 7)
	_, err = f.WriteAt(data, 4096)
	require.NoError(test, err)

	size, err := f.Size()
	require.NoError(test, err)
	assert.Equal(test, int64(4196), size)

	hole := make([]byte, 4096)
	n, err := f.ReadAt(hole, 0)
	require.NoError(test, err)
	require.Equal(test, 4096, n)
	assert.Equal(test, make([]byte, 4096), hole, "hole should read as zeros")

	got := make([]byte, 100)
	n, err = f.ReadAt(got, 4096)
	require.NoError(test, err)
	require.Equal(test, 100, n)
	assert.Equal(test, data, got)
}

// TestReadAtEndOfFile verifies the io.ReaderAt contract at the end of the
// container: partial reads and reads past the end return io.EOF.
func (suite *Suite) TestReadAtEndOfFile(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	defer f.Close()

	data := pattern(100, 11)
	_, err = f.WriteAt(data, 0)
	require.NoError(test, err)

	// Read straddling the end: partial data then EOF.
	buf := make([]byte, 50)
	n, err := f.ReadAt(buf, 80)
	assert.Equal(test, 20, n)
	assert.ErrorIs(test, err, io.EOF)
	assert.Equal(test, data[80:], buf[:n])

	// Read exactly at the end.
	n, err = f.ReadAt(buf, 100)
	assert.Equal(test, 0, n)
	assert.ErrorIs(test, err, io.EOF)

	// Read far past the end.
	n, err = f.ReadAt(buf, 5000)
	assert.Equal(test, 0, n)
	assert.ErrorIs(test, err, io.EOF)
}

// TestTruncateShrinkExtend verifies both directions of Truncate, including
// that a region shrunk away reads back as zeros after re-extension.
func (suite *Suite) TestTruncateShrinkExtend(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	defer f.Close()

	data := pattern(1000, 23)
	_, err = f.WriteAt(data, 0)
	require.NoError(test, err)

	require.NoError(test, f.Truncate(500))
	size, err := f.Size()
	require.NoError(test, err)
	assert.Equal(test, int64(500), size)

	require.NoError(test, f.Truncate(2000))
	size, err = f.Size()
	require.NoError(test, err)
	assert.Equal(test, int64(2000), size)

	// Bytes kept by the shrink survive; everything past it reads as zeros.
	got := make([]byte, 2000)
	n, err := f.ReadAt(got, 0)
	require.NoError(test, err)
	require.Equal(test, 2000, n)
	assert.Equal(test, data[:500], got[:500])
	assert.Equal(test, make([]byte, 1500), got[500:], "re-extended region should read as zeros")
}

// TestTruncateOnOpen verifies that the truncate flag discards existing
// content.
func (suite *Suite) TestTruncateOnOpen(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	_, err = f.WriteAt(pattern(100, 31), 0)
	require.NoError(test, err)
	require.NoError(test, f.Close())

	f, err = drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate|driver.OpenTruncate)
	require.NoError(test, err)
	defer f.Close()

	size, err := f.Size()
	require.NoError(test, err)
	assert.Equal(test, int64(0), size, "truncate flag should discard content")
}

// TestExclusiveCreate verifies exclusive creation semantics.
func (suite *Suite) TestExclusiveCreate(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	flag := driver.OpenRead | driver.OpenWrite | driver.OpenCreate | driver.OpenExclusive

	f, err := drv.Open(ctx, path, flag)
	require.NoError(test, err, "exclusive create of a fresh container should succeed")
	require.NoError(test, f.Close())

	if !suite.Persistent {
		test.Skip("collision check needs containers that survive close")
	}

	_, err = drv.Open(ctx, path, flag)
	require.Error(test, err)
	assert.ErrorIs(test, err, os.ErrExist)
}

// TestPersistence verifies that container bytes survive close and reopen.
func (suite *Suite) TestPersistence(test *testing.T) {
	if !suite.Persistent {
		test.Skip("driver does not persist containers")
	}

	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	data := pattern(5000, 43)

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	_, err = f.WriteAt(data, 0)
	require.NoError(test, err)
	require.NoError(test, f.Sync())
	require.NoError(test, f.Close())

	f, err = drv.Open(ctx, path, driver.OpenRead)
	require.NoError(test, err)
	defer f.Close()

	size, err := f.Size()
	require.NoError(test, err)
	require.Equal(test, int64(5000), size)

	got := make([]byte, 5000)
	n, err := f.ReadAt(got, 0)
	require.NoError(test, err)
	require.Equal(test, 5000, n)
	assert.Equal(test, data, got)
}

// TestProbes verifies Exists and Writable against container state.
func (suite *Suite) TestProbes(test *testing.T) {
	drv := suite.NewDriver(test)
	path := suite.NewPath(test)
	ctx := context.Background()

	exists, err := drv.Exists(ctx, path)
	require.NoError(test, err)
	assert.False(test, exists, "missing container should not exist")

	if !suite.Persistent {
		test.Skip("post-create probes need containers that survive close")
	}

	f, err := drv.Open(ctx, path, driver.OpenRead|driver.OpenWrite|driver.OpenCreate)
	require.NoError(test, err)
	require.NoError(test, f.Close())

	exists, err = drv.Exists(ctx, path)
	require.NoError(test, err)
	assert.True(test, exists, "created container should exist")

	writable, err := drv.Writable(ctx, path)
	require.NoError(test, err)
	assert.True(test, writable, "created container should be writable")
}
