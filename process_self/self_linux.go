//go:build linux

package process_self

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/unix"

	"gosig/process"
	"gosig/process/memory_map"
	"gosig/process_linux"
)

var mprotect = unix.Mprotect

func readSelf(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	return process_linux.ReadVM(process.ProcessID(os.Getpid()), addr, size)
}

func readMaps() ([]memory_map.MemoryMapItem, error) {
	return memory_map.NewLinuxMemoryMap().ReadMemoryMap(0)
}

func readable(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) bool {
	mm, err := readMaps()
	if err != nil {
		return false
	}

	end := uint64(addr) + uint64(size)
	cursor := uint64(addr)
	for _, item := range mm {
		if item.End() <= cursor || item.Address > cursor {
			continue
		}
		if !item.IsReadable() {
			return false
		}
		cursor = item.End()
		if cursor >= end {
			return true
		}
	}
	return false
}

func protection(item memory_map.MemoryMapItem) int {
	prot := unix.PROT_NONE
	if item.IsReadable() {
		prot |= unix.PROT_READ
	}
	if item.IsWritable() {
		prot |= unix.PROT_WRITE
	}
	if item.IsExecutable() {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func pages(start, end uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(start))), int(end-start))
}

func writeSelf(addr process.ProcessMemoryAddress, data []byte) error {
	mm, err := readMaps()
	if err != nil {
		return err
	}

	pageSize := uint64(unix.Getpagesize())
	start := uint64(addr) &^ (pageSize - 1)
	end := (uint64(addr) + uint64(len(data)) + pageSize - 1) &^ (pageSize - 1)

	// the regions being unlocked, to put their protection back afterwards
	var restore []memory_map.MemoryMapItem
	for _, item := range mm {
		if item.End() <= start || item.Address >= end {
			continue
		}
		restore = append(restore, item)
	}
	if len(restore) == 0 {
		return process.ErrAddressNotMapped
	}

	if err := mprotect(pages(start, end), unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}

	copy(pages(uint64(addr), uint64(addr)+uint64(len(data))), data)

	var errs []error
	for _, item := range restore {
		lo := max(item.Address, start)
		hi := min(item.End(), end)
		if err := mprotect(pages(lo, hi), protection(item)); err != nil {
			errs = append(errs, fmt.Errorf("restore protection of 0x%x-0x%x: %w", lo, hi, err))
		}
	}
	return errors.Join(errs...)
}

func mainModule() (process.ModuleInfo, error) {
	exe, err := os.Executable()
	if err != nil {
		return process.ModuleInfo{}, err
	}
	return findModule(filepath.Base(exe))
}

func findModule(name string) (process.ModuleInfo, error) {
	mm, err := readMaps()
	if err != nil {
		return process.ModuleInfo{}, err
	}

	base, size, path, ok := memory_map.ModuleSpan(name, mm)
	if !ok {
		return process.ModuleInfo{}, fmt.Errorf("%w: %s", process.ErrModuleNotFound, name)
	}

	return process.ModuleInfo{
		Name: name,
		Path: path,
		Base: process.ProcessMemoryAddress(base),
		Size: process.ProcessMemorySize(size),
	}, nil
}
