//go:build parallel
// +build parallel

package config

import (
	"fmt"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/driver/mpio"
)

// registerParallelDrivers adds the drivers requiring rank coordination.
func registerParallelDrivers(reg *driver.Registry) error {
	if err := reg.Register("mpio", mpio.New); err != nil {
		return fmt.Errorf("failed to register driver %q: %w", "mpio", err)
	}
	return nil
}
