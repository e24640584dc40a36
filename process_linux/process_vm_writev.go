//go:build linux

package process_linux

import (
	"fmt"
	"unsafe"

	"gosig/process"
	"gosig/process/memory_map"

	"golang.org/x/sys/unix"
)

// process_vm_writev writes to another process's memory. Like any userspace
// write it honours page protections, so code pages must be made writable first.
func process_vm_writev(
	pid process.ProcessID,
	localBuf []byte,
	remoteAddr process.ProcessMemoryAddress,
) (int, error) {
	if len(localBuf) == 0 {
		return 0, nil
	}

	localIov := unix.Iovec{
		Base: &localBuf[0],
		Len:  uint64(len(localBuf)),
	}

	remoteIov := unix.RemoteIovec{
		Base: uintptr(remoteAddr),
		Len:  len(localBuf),
	}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),                        // Remote process PID
		uintptr(unsafe.Pointer(&localIov)),  // Local iovec
		uintptr(1),                          // Number of local iovecs
		uintptr(unsafe.Pointer(&remoteIov)), // Remote iovec
		uintptr(1),                          // Number of remote iovecs
		uintptr(0),                          // Flags (reserved for future use)
	)

	if errno != 0 {
		return 0, fmt.Errorf("process_vm_writev failed: %s (errno: %d)", errno.Error(), errno)
	}

	return int(n), nil
}

// WriteMemory writes data to the process memory at the specified address
func (p *LinuxProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	p.mu.Lock()
	pid := p.pid
	var region *memory_map.MemoryMapItem
	if pid != 0 {
		region = p.regionInternal(addr)
	}
	p.mu.Unlock()

	if pid == 0 {
		return process.ErrProcessNotOpen
	}
	if region == nil {
		return fmt.Errorf("%w: %s", process.ErrAddressNotMapped, addr.ToString())
	}
	if !region.IsWritable() {
		return fmt.Errorf("memory region at %s is not writable", addr.ToString())
	}

	// Copy so the caller may reuse data while the syscall runs
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	written, err := process_vm_writev(pid, dataCopy, addr)
	if err != nil {
		return fmt.Errorf("failed to write process memory: %w", err)
	}

	if written != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes", written, len(data))
	}

	return nil
}
