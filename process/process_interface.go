package process

import (
	"gosig/process/memory_map"
)

// Memory is the view of an address space that scanning and hooking work against.
// The live process, a snapshot of one module and a file mapped from disk all satisfy it.
type Memory interface {
	// ReadMemory reads size bytes at addr
	ReadMemory(addr ProcessMemoryAddress, size ProcessMemorySize) ([]byte, error)

	// WriteMemory writes data at addr
	WriteMemory(addr ProcessMemoryAddress, data []byte) error
}

// Process is the interface that defines operations for interacting with a system process
type Process interface {
	Memory

	// Open opens a process with the given PID for memory operations
	Open(pid ProcessID) error

	// Close closes the process and releases resources
	Close() error

	// GetPID returns the process ID
	GetPID() ProcessID

	// UpdateMemoryMap refreshes the memory map for the process
	UpdateMemoryMap() error

	// IsValidAddress checks if the given memory address is valid and readable
	IsValidAddress(addr ProcessMemoryAddress) bool

	// GetMemoryMap returns a copy of the current memory map
	GetMemoryMap() ([]memory_map.MemoryMapItem, error)

	// FindModule locates an image mapped into the process by file name
	FindModule(name string) (ModuleInfo, error)
}
