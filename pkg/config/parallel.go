//go:build !parallel
// +build !parallel

package config

import "github.com/marmos91/hdfive/pkg/driver"

// registerParallelDrivers is a no-op without the parallel build tag.
func registerParallelDrivers(*driver.Registry) error {
	return nil
}
