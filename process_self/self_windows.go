//go:build windows

package process_self

import (
	"fmt"
	"path/filepath"
	"unsafe"

	"golang.org/x/sys/windows"

	"gosig/process"
)

func readSelf(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}

	var n uintptr
	err := windows.ReadProcessMemory(windows.CurrentProcess(), uintptr(addr), &buf[0], uintptr(size), &n)
	if err != nil {
		return nil, err
	}
	if n != uintptr(size) {
		return buf[:n], fmt.Errorf("partial read: %d of %d bytes", n, size)
	}
	return buf, nil
}

func readable(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) bool {
	cursor := uintptr(addr)
	end := uintptr(addr) + uintptr(size)

	for cursor < end {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(cursor, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return false
		}
		if mbi.State != windows.MEM_COMMIT || mbi.Protect&(windows.PAGE_NOACCESS|windows.PAGE_GUARD) != 0 {
			return false
		}
		cursor = mbi.BaseAddress + mbi.RegionSize
	}
	return true
}

func writeSelf(addr process.ProcessMemoryAddress, data []byte) error {
	var old uint32
	if err := windows.VirtualProtect(uintptr(addr), uintptr(len(data)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}

	copy(unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), len(data)), data)

	if err := windows.VirtualProtect(uintptr(addr), uintptr(len(data)), old, &old); err != nil {
		return fmt.Errorf("restore protection: %w", err)
	}
	return nil
}

func moduleInfo(h windows.Handle) (process.ModuleInfo, error) {
	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(windows.CurrentProcess(), h, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return process.ModuleInfo{}, fmt.Errorf("GetModuleInformation: %w", err)
	}

	var path [windows.MAX_PATH]uint16
	n, err := windows.GetModuleFileName(h, &path[0], uint32(len(path)))
	if err != nil {
		return process.ModuleInfo{}, fmt.Errorf("GetModuleFileName: %w", err)
	}
	full := windows.UTF16ToString(path[:n])

	return process.ModuleInfo{
		Name: filepath.Base(full),
		Path: full,
		Base: process.ProcessMemoryAddress(mi.BaseOfDll),
		Size: process.ProcessMemorySize(mi.SizeOfImage),
	}, nil
}

func mainModule() (process.ModuleInfo, error) {
	var h windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, nil, &h); err != nil {
		return process.ModuleInfo{}, fmt.Errorf("GetModuleHandleEx: %w", err)
	}
	return moduleInfo(h)
}

func findModule(name string) (process.ModuleInfo, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return process.ModuleInfo{}, err
	}

	var h windows.Handle
	if err := windows.GetModuleHandleEx(windows.GET_MODULE_HANDLE_EX_FLAG_UNCHANGED_REFCOUNT, p, &h); err != nil {
		return process.ModuleInfo{}, fmt.Errorf("%w: %s: %v", process.ErrModuleNotFound, name, err)
	}
	return moduleInfo(h)
}
