// Package process provides the address-space abstractions shared by the
// scanner, the hook layer and the process backends.
package process

import "errors"

var (
	// ErrAddressNotMapped is returned when a memory address is not found within any mapped region of a process.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrProcessNotOpen is returned when an operation requiring an open process is attempted
	// before the process has been successfully opened or after it has been closed.
	ErrProcessNotOpen = errors.New("process not open")

	// ErrModuleNotFound is returned when no mapping backs the requested module name.
	ErrModuleNotFound = errors.New("module not found")

	ErrInvalidPointer = errors.New("invalid pointer read")
)
