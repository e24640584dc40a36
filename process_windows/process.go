//go:build windows

package process_windows

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"gosig/process"
	"gosig/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/windows"
)

const processAccess = windows.PROCESS_VM_READ | windows.PROCESS_VM_WRITE |
	windows.PROCESS_VM_OPERATION | windows.PROCESS_QUERY_INFORMATION

// WindowsProcess implements the process.Process interface for Windows systems
type WindowsProcess struct {
	pid    process.ProcessID
	handle windows.Handle
	log    *logger.Logger
	mm     []memory_map.MemoryMapItem
	mu     sync.Mutex
}

var _ process.Process = (*WindowsProcess)(nil)

// New creates a new WindowsProcess instance
func New() *WindowsProcess {
	return &WindowsProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new WindowsProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*WindowsProcess, error) {
	p := New()
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *WindowsProcess) Open(pid process.ProcessID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	handle, err := windows.OpenProcess(processAccess, false, uint32(pid))
	if err != nil {
		return fmt.Errorf("OpenProcess failed: %w", err)
	}

	p.pid = pid
	p.handle = handle
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))

	if err := p.updateMemoryMapInternal(); err != nil {
		p.log.Warn("Failed to initialize memory map: ", err)
	}

	p.log.Infoln("Process opened")
	return nil
}

func (p *WindowsProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != 0 {
		if err := windows.CloseHandle(p.handle); err != nil {
			return fmt.Errorf("CloseHandle failed: %w", err)
		}
		p.handle = 0
	}

	p.pid = 0
	p.mm = nil
	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

func (p *WindowsProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *WindowsProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.updateMemoryMapInternal()
}

// perms renders a page protection the way /proc/pid/maps does.
func perms(protect uint32) string {
	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		return "r--p"
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return "rw-p"
	case windows.PAGE_EXECUTE:
		return "--xp"
	case windows.PAGE_EXECUTE_READ:
		return "r-xp"
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return "rwxp"
	}
	return "---p"
}

func (p *WindowsProcess) updateMemoryMapInternal() error {
	if p.handle == 0 {
		return process.ErrProcessNotOpen
	}

	var mm []memory_map.MemoryMapItem
	var addr uintptr
	for {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQueryEx(p.handle, addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
			break
		}
		if mbi.State == windows.MEM_COMMIT && mbi.Protect&windows.PAGE_GUARD == 0 {
			mm = append(mm, memory_map.MemoryMapItem{
				Address: uint64(mbi.BaseAddress),
				Size:    uint(mbi.RegionSize),
				Perms:   perms(mbi.Protect),
			})
		}
		next := mbi.BaseAddress + mbi.RegionSize
		if next <= addr {
			break
		}
		addr = next
	}

	p.mm = mm
	return nil
}

func (p *WindowsProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	item := memory_map.IsValidAddress2(uint64(addr), p.mm)
	return item != nil && item.IsReadable()
}

func (p *WindowsProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == 0 {
		return nil, process.ErrProcessNotOpen
	}
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)
	return result, nil
}

func (p *WindowsProcess) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return nil, process.ErrProcessNotOpen
	}

	buf := make([]byte, size)
	var bytesRead uintptr
	if err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(size), &bytesRead); err != nil {
		return nil, fmt.Errorf("%w: ReadProcessMemory at %s: %v", process.ErrAddressNotMapped, addr.ToString(), err)
	}

	if bytesRead != uintptr(size) {
		return nil, fmt.Errorf("read incomplete: expected %d, got %d", size, bytesRead)
	}

	return buf, nil
}

// WriteMemory writes data at addr, lifting page protection for the write.
func (p *WindowsProcess) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return process.ErrProcessNotOpen
	}

	var old uint32
	if err := windows.VirtualProtectEx(handle, uintptr(addr), uintptr(len(data)), windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("VirtualProtectEx at %s: %w", addr.ToString(), err)
	}
	defer windows.VirtualProtectEx(handle, uintptr(addr), uintptr(len(data)), old, &old)

	var written uintptr
	if err := windows.WriteProcessMemory(handle, uintptr(addr), &data[0], uintptr(len(data)), &written); err != nil {
		return fmt.Errorf("WriteProcessMemory at %s: %w", addr.ToString(), err)
	}
	if written != uintptr(len(data)) {
		return fmt.Errorf("only wrote %d of %d bytes", written, len(data))
	}
	return nil
}

// FindModule looks name up among the modules the loader reports for the process.
func (p *WindowsProcess) FindModule(name string) (process.ModuleInfo, error) {
	p.mu.Lock()
	handle := p.handle
	p.mu.Unlock()

	if handle == 0 {
		return process.ModuleInfo{}, process.ErrProcessNotOpen
	}

	modules := make([]windows.Handle, 1024)
	var needed uint32
	if err := windows.EnumProcessModules(handle, &modules[0], uint32(len(modules))*uint32(unsafe.Sizeof(modules[0])), &needed); err != nil {
		return process.ModuleInfo{}, fmt.Errorf("EnumProcessModules: %w", err)
	}
	count := min(int(needed/uint32(unsafe.Sizeof(modules[0]))), len(modules))

	for _, module := range modules[:count] {
		var path [windows.MAX_PATH]uint16
		if err := windows.GetModuleFileNameEx(handle, module, &path[0], uint32(len(path))); err != nil {
			continue
		}
		full := windows.UTF16ToString(path[:])
		if !strings.EqualFold(filepath.Base(full), name) {
			continue
		}

		var mi windows.ModuleInfo
		if err := windows.GetModuleInformation(handle, module, &mi, uint32(unsafe.Sizeof(mi))); err != nil {
			return process.ModuleInfo{}, fmt.Errorf("GetModuleInformation: %w", err)
		}

		return process.ModuleInfo{
			Name: filepath.Base(full),
			Path: full,
			Base: process.ProcessMemoryAddress(mi.BaseOfDll),
			Size: process.ProcessMemorySize(mi.SizeOfImage),
		}, nil
	}

	return process.ModuleInfo{}, fmt.Errorf("%w: %s", process.ErrModuleNotFound, name)
}
