//go:build linux

package process_linux

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gosig/process"
	"gosig/process/memory_map"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// LinuxProcess implements the process.Process interface for Linux systems
type LinuxProcess struct {
	pid process.ProcessID
	log *logger.Logger
	mm  []memory_map.MemoryMapItem
	mu  sync.Mutex
}

var _ process.Process = (*LinuxProcess)(nil)

// New creates a new LinuxProcess instance
func New() *LinuxProcess {
	return &LinuxProcess{
		log: logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open")),
	}
}

// NewWithPID creates a new LinuxProcess instance and opens it with the given PID
func NewWithPID(pid process.ProcessID) (*LinuxProcess, error) {
	p := New()
	err := p.Open(pid)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (p *LinuxProcess) Open(pid process.ProcessID) error {
	// Check if process exists
	procPath := fmt.Sprintf("/proc/%d", pid)
	if _, err := os.Stat(procPath); os.IsNotExist(err) {
		return fmt.Errorf("process with PID %d does not exist", pid)
	}

	p.mu.Lock()
	p.pid = pid
	p.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("process-%d", pid)))
	p.mu.Unlock()

	if err := p.UpdateMemoryMap(); err != nil {
		return fmt.Errorf("failed to initialize memory map: %w", err)
	}

	p.log.Infoln("Process opened")

	return nil
}

func (p *LinuxProcess) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.log.Infoln("Closing process")

	p.pid = 0
	p.mm = nil

	p.log = logger.NewLogger(coloransi.Color(coloransi.Red, coloransi.ColorOrange, "process-not-open"))

	return nil
}

// GetPID returns the process ID
func (p *LinuxProcess) GetPID() process.ProcessID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pid
}

func (p *LinuxProcess) UpdateMemoryMap() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pid == 0 {
		return process.ErrProcessNotOpen
	}

	mm, err := memory_map.NewLinuxMemoryMap().ReadMemoryMap(int(p.pid))
	if err != nil {
		return fmt.Errorf("failed to read memory map: %w", err)
	}

	// IsValidAddress2 requires the memory map to be sorted by address
	sort.Slice(mm, func(i, j int) bool {
		return mm[i].Address < mm[j].Address
	})

	p.mm = mm
	return nil
}

func (p *LinuxProcess) IsValidAddress(addr process.ProcessMemoryAddress) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.regionInternal(addr) != nil
}

// regionInternal returns the readable region holding addr. The caller holds p.mu.
func (p *LinuxProcess) regionInternal(addr process.ProcessMemoryAddress) *memory_map.MemoryMapItem {
	if addr <= 0x10000 {
		return nil
	}

	if item := memory_map.IsValidAddress2(uint64(addr), p.mm); item != nil && item.IsReadable() {
		return item
	}

	return nil
}

func (p *LinuxProcess) GetMemoryMap() ([]memory_map.MemoryMapItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pid == 0 {
		return nil, process.ErrProcessNotOpen
	}

	// Make a copy of the memory map to prevent external modification
	result := make([]memory_map.MemoryMapItem, len(p.mm))
	copy(result, p.mm)

	return result, nil
}

// FindModule locates an image by the base name of its backing file, e.g.
// "game.exe" inside a Wine process.
func (p *LinuxProcess) FindModule(name string) (process.ModuleInfo, error) {
	mm, err := p.GetMemoryMap()
	if err != nil {
		return process.ModuleInfo{}, err
	}

	base, size, path, ok := memory_map.ModuleSpan(name, mm)
	if !ok {
		return process.ModuleInfo{}, fmt.Errorf("%w: %s", process.ErrModuleNotFound, name)
	}

	p.log.Debugln("Module", name, "at", process.ProcessMemoryAddress(base).ToString(), "size", size)

	return process.ModuleInfo{
		Name: name,
		Path: path,
		Base: process.ProcessMemoryAddress(base),
		Size: process.ProcessMemorySize(size),
	}, nil
}
