package detour

import (
	"errors"

	"gosig/process"
)

// searchDistance bounds how far from a target the allocators look for
// memory, leaving room for the trampoline itself inside rel32 reach.
const searchDistance = 0x7FF00000

var ErrNoMemoryNearby = errors.New("no free memory within rel32 reach")

// Allocator provides executable memory for trampolines.
type Allocator interface {
	// Alloc returns size writable, executable bytes, as close to near as it can.
	Alloc(near process.ProcessMemoryAddress, size process.ProcessMemorySize) (process.ProcessMemoryAddress, error)

	// Free returns a block obtained from Alloc.
	Free(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) error
}

// candidates yields addresses alternating below and above near, step apart,
// within searchDistance.
func candidates(near process.ProcessMemoryAddress, step uint64, yield func(process.ProcessMemoryAddress) bool) {
	base := uint64(near) &^ (step - 1)
	for d := uint64(0); d < searchDistance; d += step {
		if base >= d && base-d != 0 {
			if !yield(process.ProcessMemoryAddress(base - d)) {
				return
			}
		}
		if d != 0 && base+d > base {
			if !yield(process.ProcessMemoryAddress(base + d)) {
				return
			}
		}
	}
}
