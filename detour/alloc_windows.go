//go:build windows

package detour

import (
	"fmt"

	"golang.org/x/sys/windows"

	"gosig/process"
)

// allocationGranularity is the alignment VirtualAlloc reserves at.
const allocationGranularity = 0x10000

type virtualAllocator struct{}

// NewAllocator returns an allocator reserving RWX pages near the target.
func NewAllocator() Allocator {
	return virtualAllocator{}
}

func (virtualAllocator) Alloc(near process.ProcessMemoryAddress, size process.ProcessMemorySize) (process.ProcessMemoryAddress, error) {
	result := process.ProcessMemoryAddress(0)

	candidates(near, allocationGranularity, func(hint process.ProcessMemoryAddress) bool {
		addr, err := windows.VirtualAlloc(uintptr(hint), uintptr(size),
			windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
		if err != nil || addr == 0 {
			return true
		}
		result = process.ProcessMemoryAddress(addr)
		return false
	})

	if result == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoMemoryNearby, near.ToString())
	}
	return result, nil
}

func (virtualAllocator) Free(addr process.ProcessMemoryAddress, _ process.ProcessMemorySize) error {
	return windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE)
}
