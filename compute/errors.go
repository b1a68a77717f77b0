package compute

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
)

var (
	// ErrPoolExhausted is returned when a binding allocator has no set or
	// descriptor capacity left.
	ErrPoolExhausted = errors.New("binding pool exhausted")
	// ErrBindingMismatch is returned when dispatch arguments do not match
	// the kernel's binding declarations.
	ErrBindingMismatch = errors.New("binding arguments do not match kernel declarations")
	// ErrConstantsSize is returned when a push-constant blob has the wrong size.
	ErrConstantsSize = errors.New("push constant size mismatch")
	// ErrReleased is returned by operations on a released object.
	ErrReleased = errors.New("object has been released")
	// ErrInvalidArgument is returned for arguments that can never succeed.
	ErrInvalidArgument = errors.New("invalid argument")
)

// CapacityError reports a load larger than a buffer's capacity. The buffer
// is left unchanged.
type CapacityError struct {
	Requested uint64
	Capacity  uint64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("load of %d bytes exceeds buffer capacity of %d bytes", e.Requested, e.Capacity)
}

// IOError reports a kernel binary that could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read kernel %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// poolError maps a driver allocation failure caused by pool capacity onto
// ErrPoolExhausted while keeping the driver error in the chain.
func poolError(err error) error {
	if driver.IsResult(err, driver.ErrorOutOfPoolMemory) || driver.IsResult(err, driver.ErrorFragmentedPool) {
		return errors.Mark(err, ErrPoolExhausted)
	}
	return err
}
