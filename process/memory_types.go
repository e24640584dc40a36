package process

import (
	"fmt"
)

// ProcessMemoryAddress represents a memory address within a process
type ProcessMemoryAddress uint64

func (pma ProcessMemoryAddress) ToString() string {
	return fmt.Sprintf("0x%X", uint64(pma))
}

// Add returns the address displaced by a signed delta, as branch and
// rip-relative operands encode it.
func (pma ProcessMemoryAddress) Add(delta int64) ProcessMemoryAddress {
	return ProcessMemoryAddress(int64(pma) + delta)
}

// ProcessMemorySize represents a size of memory region
type ProcessMemorySize uint

func (pms ProcessMemorySize) ToString() string {
	return fmt.Sprintf("%d bytes", uint(pms))
}

// Range is a half open [Address, Address+Size) span of an address space.
type Range struct {
	Address ProcessMemoryAddress
	Size    ProcessMemorySize
}

// Contains reports whether addr lies inside the range.
func (r Range) Contains(addr ProcessMemoryAddress) bool {
	return addr >= r.Address && uint64(addr-r.Address) < uint64(r.Size)
}

// End returns the first address past the range.
func (r Range) End() ProcessMemoryAddress {
	return r.Address + ProcessMemoryAddress(r.Size)
}
