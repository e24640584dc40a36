//go:build linux

package detour

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"gosig/process"
)

type mmapAllocator struct {
	pageSize uint64
}

// NewAllocator returns an allocator mapping anonymous RWX pages near the target.
func NewAllocator() Allocator {
	return &mmapAllocator{pageSize: uint64(unix.Getpagesize())}
}

func (a *mmapAllocator) roundUp(size process.ProcessMemorySize) uintptr {
	return uintptr((uint64(size) + a.pageSize - 1) &^ (a.pageSize - 1))
}

func (a *mmapAllocator) Alloc(near process.ProcessMemoryAddress, size process.ProcessMemorySize) (process.ProcessMemoryAddress, error) {
	length := a.roundUp(size)
	result := process.ProcessMemoryAddress(0)

	candidates(near, 0x10000, func(hint process.ProcessMemoryAddress) bool {
		p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(uintptr(hint)), length,
			unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
			unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_FIXED_NOREPLACE)
		if err != nil {
			return true
		}

		addr := process.ProcessMemoryAddress(uintptr(p))
		// kernels before 4.17 treat the flag as a hint
		if !fits32(addr, near) || !fits32(near, addr+process.ProcessMemoryAddress(length)) {
			_ = unix.MunmapPtr(p, length)
			return true
		}

		result = addr
		return false
	})

	if result == 0 {
		return 0, fmt.Errorf("%w: %s", ErrNoMemoryNearby, near.ToString())
	}
	return result, nil
}

func (a *mmapAllocator) Free(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) error {
	return unix.MunmapPtr(unsafe.Pointer(uintptr(addr)), a.roundUp(size))
}
