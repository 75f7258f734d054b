package file

import (
	"fmt"

	"github.com/marmos91/hdfive/pkg/driver"
	"github.com/marmos91/hdfive/pkg/engine"
)

// DefaultDriver is the storage driver used when none is requested.
const DefaultDriver = "sec2"

// minUserblock is the smallest legal non-zero userblock size.
const minUserblock = 512

// OpenOptions carries the tunables accepted by Open beyond the path
// and the mode token. The zero value is not usable; construct with
// NewOpenOptions and override fields as needed.
type OpenOptions struct {
	// Driver selects the storage driver by registry name.
	Driver string

	// DriverOptions holds driver-specific settings, such as
	// "block_size" for the core driver or "meta_ext" for split.
	DriverOptions map[string]any

	// Libver bounds the format features the session may use.
	Libver engine.LibverBounds

	// Userblock reserves space for caller-owned data at the start of
	// the container. Zero, or a power of two >= 512. Only honored
	// when the open creates the container.
	Userblock uint64

	// Strategy configures file-space management. Only honored when
	// the open creates the container.
	Strategy engine.FileSpaceStrategy

	// Comm coordinates cooperating processes for parallel drivers.
	// Required by the mpio driver, ignored by all others.
	Comm driver.Communicator
}

// NewOpenOptions returns options with the defaults applied: the sec2
// driver, the widest compatibility bounds, no userblock, and the
// free-space-manager strategy.
func NewOpenOptions() *OpenOptions {
	return &OpenOptions{
		Driver:   DefaultDriver,
		Libver:   engine.LibverBounds{Low: engine.LibverEarliest, High: engine.LibverLatest},
		Strategy: engine.DefaultStrategy(),
	}
}

// clone returns a deep-enough copy for the file layer to mutate
// without aliasing the caller's options.
func (o *OpenOptions) clone() *OpenOptions {
	out := *o
	if o.DriverOptions != nil {
		out.DriverOptions = make(map[string]any, len(o.DriverOptions))
		for k, v := range o.DriverOptions {
			out.DriverOptions[k] = v
		}
	}
	return &out
}

// validateUserblockSize rejects sizes that are neither zero nor a
// power of two of at least 512 bytes.
func validateUserblockSize(size uint64) error {
	if size == 0 {
		return nil
	}
	if size < minUserblock || size&(size-1) != 0 {
		return &Error{
			Kind:    KindInvalidArgument,
			Message: fmt.Sprintf("userblock size must be zero or a power of two >= %d, got %d", minUserblock, size),
		}
	}
	return nil
}
