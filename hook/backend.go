package hook

import (
	"gosig/process"
)

// Backend installs detours. Writing executable bytes is platform specific
// and lives behind this boundary; package detour provides the native one.
type Backend interface {
	// Install prepares a detour from target to handler, initially disabled.
	Install(target process.ProcessMemoryAddress, handler uintptr) (Detour, error)
}

// Detour is one installed interception. Implementations serialise
// Enable and Disable against each other.
type Detour interface {
	// Original returns an entry point with the pre-hook behaviour. It stays
	// callable until Release, whether or not the detour is enabled.
	Original() uintptr

	// Enable redirects calls to the target into the handler.
	Enable() error

	// Disable restores the target's own code.
	Disable() error

	// Release frees the trampoline. Only called on a disabled detour.
	Release() error
}
