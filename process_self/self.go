//go:build linux || windows

// Package process_self is the address space of the host itself: the process
// a hooking library is loaded into. It ties the scanner, the hook registry
// and the native detour backend to the running image.
package process_self

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"gosig/detour"
	"gosig/hook"
	"gosig/module_image"
	"gosig/process"
)

// Self reads and patches the calling process. Reads go through the kernel so
// a bad address fails instead of faulting; writes lift page protection for
// the duration of the copy.
type Self struct {
	log *logger.Logger

	mu sync.Mutex
}

var _ process.Memory = (*Self)(nil)

func New() *Self {
	return &Self{
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "self")),
	}
}

func (s *Self) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	data, err := readSelf(addr, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", process.ErrAddressNotMapped, addr.ToString(), err)
	}
	return data, nil
}

// View exposes [addr, addr+size) without copying. The bytes change under the
// caller whenever the range is patched.
func (s *Self) View(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if size == 0 {
		return []byte{}, nil
	}
	if !readable(addr, size) {
		return nil, fmt.Errorf("%w: %s+0x%x", process.ErrAddressNotMapped, addr.ToString(), uint64(size))
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(size)), nil
}

// WriteMemory writes data over code or data at addr, restoring the original
// protection afterwards. Writes are serialised.
func (s *Self) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeSelf(addr, data); err != nil {
		return fmt.Errorf("patch %s: %w", addr.ToString(), err)
	}
	return nil
}

// MainModule returns the executable image of the host.
func (s *Self) MainModule() (process.ModuleInfo, error) {
	return mainModule()
}

// FindModule returns a loaded image by file name.
func (s *Self) FindModule(name string) (process.ModuleInfo, error) {
	return findModule(name)
}

// FromMainModule builds a search space over the host's executable.
func FromMainModule(options ...module_image.Option) (*module_image.SearchSpace, error) {
	self := New()
	module, err := self.MainModule()
	if err != nil {
		return nil, err
	}
	return module_image.NewSearchSpace(self, module.Base, module.Size, options...)
}

// FromModule builds a search space over a loaded image by file name.
func FromModule(name string, options ...module_image.Option) (*module_image.SearchSpace, error) {
	self := New()
	module, err := self.FindModule(name)
	if err != nil {
		return nil, err
	}
	return module_image.NewSearchSpace(self, module.Base, module.Size, options...)
}

// NewRegistry returns a hook registry that patches the host with the native
// detour backend and classifies hooks against its executable.
func NewRegistry(options ...hook.RegistryOption) (*hook.Registry, error) {
	self := New()
	module, err := self.MainModule()
	if err != nil {
		return nil, err
	}

	options = append([]hook.RegistryOption{hook.WithMainModule(module.Base, module.Size)}, options...)
	backend := detour.NewBackend(self, detour.NewAllocator())
	self.log.Infoln("Hook registry for", module.Name, "at", module.Base.ToString())
	return hook.NewRegistry(backend, self, options...), nil
}
