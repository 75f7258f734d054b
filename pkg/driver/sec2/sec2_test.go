package sec2

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/driver/drivertest"
)

// TestSec2Driver runs the driver conformance suite against the sec2
// implementation.
func TestSec2Driver(t *testing.T) {
	suite := &drivertest.Suite{
		NewDriver: func(t *testing.T) driver.Driver {
			return &Driver{}
		},
		NewPath: func(t *testing.T) string {
			return filepath.Join(t.TempDir(), "container.hv5")
		},
		Persistent: true,
	}

	suite.Run(t)
}

// TestWritableMissingFile verifies that probing a missing file reports not
// writable instead of failing.
func TestWritableMissingFile(t *testing.T) {
	drv := &Driver{}
	path := filepath.Join(t.TempDir(), "missing.hv5")

	writable, err := drv.Writable(context.Background(), path)
	if err != nil {
		t.Fatalf("Writable failed: %v", err)
	}
	if writable {
		t.Error("missing file should not be writable")
	}
}
