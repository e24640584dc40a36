package hook

import (
	"errors"
	"sync"

	"gosig/process"
	"gosig/process_blob"
)

const (
	codeBase    = process.ProcessMemoryAddress(0x10000)
	codeSize    = 0x1000
	handlerBase = uintptr(0x900000)
	trampBase   = uintptr(0x800000)
)

var errInjected = errors.New("injected failure")

// machine models a callable address space: an address either runs the Go
// function registered there or, when a detour is enabled on it, the handler.
type machine struct {
	mem *process_blob.ProcessBlob

	mu      sync.Mutex
	funcs   map[uintptr]func(int) int
	patches map[uintptr]uintptr
	next    uintptr
}

func newMachine() *machine {
	code := make([]byte, codeSize)
	for i := range code {
		code[i] = 0xCC
	}
	return &machine{
		mem:     process_blob.NewProcessBlob(codeBase, code),
		funcs:   make(map[uintptr]func(int) int),
		patches: make(map[uintptr]uintptr),
		next:    trampBase,
	}
}

func (m *machine) define(addr uintptr, fn func(int) int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[addr] = fn
}

func (m *machine) call(addr uintptr, arg int) int {
	m.mu.Lock()
	fn := m.funcs[addr]
	if handler, ok := m.patches[addr]; ok {
		fn = m.funcs[handler]
	}
	m.mu.Unlock()
	if fn == nil {
		panic("call to undefined address")
	}
	return fn(arg)
}

type fakeBackend struct {
	m *machine

	mu         sync.Mutex
	installs   int
	detours    []*fakeDetour
	disableErr error
	releaseErr error
}

func (b *fakeBackend) Install(target process.ProcessMemoryAddress, handler uintptr) (Detour, error) {
	b.m.mu.Lock()
	original := b.m.funcs[uintptr(target)]
	tramp := b.m.next
	b.m.next += 0x100
	b.m.funcs[tramp] = original
	b.m.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.installs++
	d := &fakeDetour{b: b, target: uintptr(target), handler: handler, tramp: tramp}
	b.detours = append(b.detours, d)
	return d, nil
}

type fakeDetour struct {
	b       *fakeBackend
	target  uintptr
	handler uintptr
	tramp   uintptr

	enabled         bool
	released        bool
	releasedWhileOn bool
}

func (d *fakeDetour) Original() uintptr {
	return d.tramp
}

func (d *fakeDetour) Enable() error {
	d.b.m.mu.Lock()
	defer d.b.m.mu.Unlock()
	d.b.m.patches[d.target] = d.handler
	d.enabled = true
	return nil
}

func (d *fakeDetour) Disable() error {
	d.b.mu.Lock()
	err := d.b.disableErr
	d.b.mu.Unlock()
	if err != nil {
		return err
	}

	d.b.m.mu.Lock()
	defer d.b.m.mu.Unlock()
	delete(d.b.m.patches, d.target)
	d.enabled = false
	return nil
}

func (d *fakeDetour) Release() error {
	d.b.mu.Lock()
	err := d.b.releaseErr
	d.b.mu.Unlock()

	d.b.m.mu.Lock()
	defer d.b.m.mu.Unlock()
	if d.enabled {
		d.releasedWhileOn = true
	}
	delete(d.b.m.funcs, d.tramp)
	d.released = true
	return err
}

// setup returns a machine with f(x) = x+1 at addr and a registry over it.
func setup(options ...RegistryOption) (*machine, *fakeBackend, *Registry) {
	m := newMachine()
	b := &fakeBackend{m: m}
	return m, b, NewRegistry(b, m.mem, options...)
}

func sysv(addr process.ProcessMemoryAddress) Target {
	return Target{Address: addr, ABI: ABISysV64}
}
