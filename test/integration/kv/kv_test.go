//go:build integration

package kv_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/hdfive/pkg/config"
	"github.com/marmos91/hdfive/pkg/engine"
	"github.com/marmos91/hdfive/pkg/engine/hv5"
	"github.com/marmos91/hdfive/pkg/file"
)

// newKvEngine builds an engine over the default driver set.
func newKvEngine(t *testing.T) engine.Engine {
	t.Helper()

	reg, err := config.DefaultRegistry()
	if err != nil {
		t.Fatalf("Failed to build registry: %v", err)
	}
	return hv5.New(reg)
}

func kvOptions(dbPath string) *file.OpenOptions {
	opts := file.NewOpenOptions()
	opts.Driver = "kv"
	opts.DriverOptions = map[string]any{"db_path": dbPath}
	return opts
}

// TestKvContainers_Integration runs containers stored in BadgerDB through
// the whole stack: file layer, engine and kv driver.
//
// Prerequisites:
//   - None (BadgerDB is embedded, no external services needed)
//   - Run with: go test -tags=integration ./test/integration/kv/...
//
// These tests verify that the kv driver:
//   - Stores containers inside a BadgerDB database
//   - Persists container contents across database reopens
//   - Keeps multiple containers in one database apart
func TestKvContainers_Integration(t *testing.T) {
	ctx := context.Background()

	// ========================================================================
	// Setup: Create temporary directory for the test database
	// ========================================================================

	tempDir, err := os.MkdirTemp("", "hdfive-kv-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "containers.db")
	payload := bytes.Repeat([]byte{0x5a}, 32)

	// ========================================================================
	// Test: Create a container and populate it
	// ========================================================================

	t.Run("CreateAndPopulate", func(t *testing.T) {
		eng := newKvEngine(t)

		f, err := file.Open(ctx, eng, "experiment.hv5", "w", kvOptions(dbPath))
		if err != nil {
			t.Fatalf("Failed to create container: %v", err)
		}

		run, err := f.CreateGroup("run1")
		if err != nil {
			t.Fatalf("Failed to create group: %v", err)
		}
		if err := run.SetAttr("operator", file.StringValue("integration")); err != nil {
			t.Fatalf("Failed to set attribute: %v", err)
		}

		d, err := run.CreateDataset("samples", file.DatasetSpec{Dtype: "i8", Shape: []uint64{4}})
		if err != nil {
			t.Fatalf("Failed to create dataset: %v", err)
		}
		if err := d.SetBytes(payload); err != nil {
			t.Fatalf("Failed to write dataset: %v", err)
		}

		if err := f.Close(ctx); err != nil {
			t.Fatalf("Failed to close container: %v", err)
		}
	})

	// ========================================================================
	// Test: Persistence across database reopens
	// ========================================================================

	t.Run("Persistence", func(t *testing.T) {
		// A fresh engine means a fresh driver and a fresh BadgerDB handle,
		// so this simulates a process restart.
		eng := newKvEngine(t)

		f, err := file.Open(ctx, eng, "experiment.hv5", "r", kvOptions(dbPath))
		if err != nil {
			t.Fatalf("Failed to reopen container: %v", err)
		}
		defer f.Close(ctx)

		run, err := f.OpenGroup("run1")
		if err != nil {
			t.Fatalf("Failed to open group: %v", err)
		}

		attr, err := run.Attr("operator")
		if err != nil {
			t.Fatalf("Failed to read attribute: %v", err)
		}
		if attr.Str != "integration" {
			t.Errorf("Expected operator 'integration', got %q", attr.Str)
		}

		d, err := run.OpenDataset("samples")
		if err != nil {
			t.Fatalf("Failed to open dataset: %v", err)
		}
		got, err := d.Bytes()
		if err != nil {
			t.Fatalf("Failed to read dataset: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Dataset bytes changed across reopen: got %v, want %v", got, payload)
		}
	})

	// ========================================================================
	// Test: Append mode across reopens
	// ========================================================================

	t.Run("AppendAcrossReopen", func(t *testing.T) {
		// Phase 1: Add a second group in append mode
		{
			eng := newKvEngine(t)

			f, err := file.Open(ctx, eng, "experiment.hv5", "a", kvOptions(dbPath))
			if err != nil {
				t.Fatalf("Failed to open container for append: %v", err)
			}

			if _, err := f.CreateGroup("run2"); err != nil {
				t.Fatalf("Failed to create group: %v", err)
			}

			if err := f.Close(ctx); err != nil {
				t.Fatalf("Failed to close container: %v", err)
			}
		}

		// Phase 2: Both groups are visible after reopen
		{
			eng := newKvEngine(t)

			f, err := file.Open(ctx, eng, "experiment.hv5", "r", kvOptions(dbPath))
			if err != nil {
				t.Fatalf("Failed to reopen container: %v", err)
			}
			defer f.Close(ctx)

			for _, name := range []string{"run1", "run2"} {
				ok, err := f.Has(name)
				if err != nil {
					t.Fatalf("Failed to check %s: %v", name, err)
				}
				if !ok {
					t.Errorf("Expected group %s to survive reopen", name)
				}
			}
		}
	})

	// ========================================================================
	// Test: Multiple containers in one database
	// ========================================================================

	t.Run("MultipleContainers", func(t *testing.T) {
		eng := newKvEngine(t)

		f, err := file.Open(ctx, eng, "calibration.hv5", "w-", kvOptions(dbPath))
		if err != nil {
			t.Fatalf("Failed to create second container: %v", err)
		}
		if _, err := f.CreateGroup("coefficients"); err != nil {
			t.Fatalf("Failed to create group: %v", err)
		}
		if err := f.Close(ctx); err != nil {
			t.Fatalf("Failed to close second container: %v", err)
		}

		// The first container does not see the second one's objects
		first, err := file.Open(ctx, eng, "experiment.hv5", "r", kvOptions(dbPath))
		if err != nil {
			t.Fatalf("Failed to reopen first container: %v", err)
		}
		defer first.Close(ctx)

		ok, err := first.Has("coefficients")
		if err != nil {
			t.Fatalf("Failed to check coefficients: %v", err)
		}
		if ok {
			t.Error("Containers in the same database must not share objects")
		}
	})

	// ========================================================================
	// Test: Exclusive create refuses an existing key
	// ========================================================================

	t.Run("ExclusiveCreate", func(t *testing.T) {
		eng := newKvEngine(t)

		_, err := file.Open(ctx, eng, "experiment.hv5", "w-", kvOptions(dbPath))
		if err == nil {
			t.Fatal("Expected error creating over an existing container")
		}
		if !file.IsKind(err, file.KindAlreadyExists) {
			t.Errorf("Expected already-exists error, got: %v", err)
		}
	})

	// ========================================================================
	// Test: Missing container key
	// ========================================================================

	t.Run("MissingContainer", func(t *testing.T) {
		eng := newKvEngine(t)

		_, err := file.Open(ctx, eng, "absent.hv5", "r", kvOptions(dbPath))
		if err == nil {
			t.Fatal("Expected error opening a missing container")
		}
		if !file.IsKind(err, file.KindNotFound) {
			t.Errorf("Expected not-found error, got: %v", err)
		}
	})
}

// TestKvContainers_SyncWrites verifies the sync_writes option is accepted
// and the database still round-trips data.
func TestKvContainers_SyncWrites(t *testing.T) {
	ctx := context.Background()

	tempDir, err := os.MkdirTemp("", "hdfive-kv-sync-*")
	if err != nil {
		t.Fatalf("Failed to create temp directory: %v", err)
	}
	defer os.RemoveAll(tempDir)

	opts := file.NewOpenOptions()
	opts.Driver = "kv"
	opts.DriverOptions = map[string]any{
		"db_path":     filepath.Join(tempDir, "sync.db"),
		"sync_writes": true,
		"chunk_size":  int64(4096),
	}

	eng := newKvEngine(t)

	f, err := file.Open(ctx, eng, "synced.hv5", "w", opts)
	if err != nil {
		t.Fatalf("Failed to create container: %v", err)
	}

	d, err := f.CreateDataset("values", file.DatasetSpec{Dtype: "u2", Shape: []uint64{8}})
	if err != nil {
		t.Fatalf("Failed to create dataset: %v", err)
	}
	want := bytes.Repeat([]byte{0xab, 0xcd}, 8)
	if err := d.SetBytes(want); err != nil {
		t.Fatalf("Failed to write dataset: %v", err)
	}
	if err := f.Close(ctx); err != nil {
		t.Fatalf("Failed to close container: %v", err)
	}

	reopened, err := file.Open(ctx, eng, "synced.hv5", "r", opts)
	if err != nil {
		t.Fatalf("Failed to reopen container: %v", err)
	}
	defer reopened.Close(ctx)

	d, err = reopened.OpenDataset("values")
	if err != nil {
		t.Fatalf("Failed to open dataset: %v", err)
	}
	got, err := d.Bytes()
	if err != nil {
		t.Fatalf("Failed to read dataset: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Dataset bytes changed across reopen: got %v, want %v", got, want)
	}
}
