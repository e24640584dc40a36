package hook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
	"weak"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/google/uuid"

	"gosig/process"
)

// originalSize is how much of a function's prologue is remembered before its first hook.
const originalSize = 0x20

// Entry describes one registered hook.
type Entry struct {
	ID      uuid.UUID
	Owner   string // consumer that created the hook, e.g. an extension name
	Caller  string // file:line of the constructing call
	Address process.ProcessMemoryAddress
	ABI     ABI
	Created time.Time

	// IsMainModule is set when the hooked address lies inside the host
	// process's own executable rather than foreign or injected code.
	IsMainModule bool

	seq  uint64
	hook weak.Pointer[Hook]
}

// Hook returns the hook the entry describes, or nil once it has been collected.
func (e Entry) Hook() *Hook {
	return e.hook.Value()
}

// Registry tracks the hooks a host has installed. It is the context every
// Hook is constructed against; tests build their own instead of sharing one.
type Registry struct {
	backend Backend
	mem     process.Memory
	main    process.Range
	log     *logger.Logger

	mu        sync.Mutex
	seq       uint64
	entries   map[uuid.UUID]*Entry
	originals map[process.ProcessMemoryAddress][]byte
	live      map[process.ProcessMemoryAddress]uuid.UUID
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithMainModule sets the span of the host process's executable.
func WithMainModule(base process.ProcessMemoryAddress, size process.ProcessMemorySize) RegistryOption {
	return func(reg *Registry) {
		reg.main = process.Range{Address: base, Size: size}
	}
}

func WithLogger(l *logger.Logger) RegistryOption {
	return func(reg *Registry) {
		reg.log = l
	}
}

// NewRegistry creates a registry installing through backend. mem is the
// address space hooks are placed in, read to follow jumps and to remember
// original prologues.
func NewRegistry(backend Backend, mem process.Memory, options ...RegistryOption) *Registry {
	reg := &Registry{
		backend:   backend,
		mem:       mem,
		entries:   make(map[uuid.UUID]*Entry),
		originals: make(map[process.ProcessMemoryAddress][]byte),
		live:      make(map[process.ProcessMemoryAddress]uuid.UUID),
	}

	for _, opt := range options {
		opt(reg)
	}

	if reg.log == nil {
		reg.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "hooks"))
	}

	return reg
}

// IsMainModule reports whether addr lies inside the host's own executable.
func (reg *Registry) IsMainModule(addr process.ProcessMemoryAddress) bool {
	return reg.main.Contains(addr)
}

// followJmp resolves through foreign jumps but stops at addresses this
// registry has hooked, so a second hook never lands inside our own trampoline.
func (reg *Registry) followJmp(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	return FollowJmp(reg.mem, addr, func(a process.ProcessMemoryAddress) bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		_, hooked := reg.originals[a]
		return hooked
	})
}

// claim reserves addr for the hook id. Only one live hook may own an
// address: a second detour would steal the first one's patch as its prologue.
func (reg *Registry) claim(addr process.ProcessMemoryAddress, id uuid.UUID) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if owner, ok := reg.live[addr]; ok {
		return fmt.Errorf("%w: %s by %s", ErrAlreadyHooked, addr.ToString(), owner.String())
	}
	reg.live[addr] = id
	return nil
}

func (reg *Registry) unclaim(addr process.ProcessMemoryAddress, id uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.live[addr] == id {
		delete(reg.live, addr)
	}
}

// rememberOriginal keeps the prologue of addr as it was before the first hook.
func (reg *Registry) rememberOriginal(addr process.ProcessMemoryAddress) error {
	reg.mu.Lock()
	_, known := reg.originals[addr]
	reg.mu.Unlock()
	if known {
		return nil
	}

	code, err := reg.mem.ReadMemory(addr, originalSize)
	if err != nil {
		return fmt.Errorf("read original code at %s: %w", addr.ToString(), err)
	}

	reg.mu.Lock()
	if _, known := reg.originals[addr]; !known {
		reg.originals[addr] = code
	}
	reg.mu.Unlock()
	return nil
}

// OriginalBytes returns the prologue of addr captured before it was first hooked.
func (reg *Registry) OriginalBytes(addr process.ProcessMemoryAddress) ([]byte, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	code, ok := reg.originals[addr]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(code))
	copy(out, code)
	return out, true
}

func (reg *Registry) add(h *Hook, owner, caller string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.seq++
	reg.entries[h.id] = &Entry{
		ID:           h.id,
		Owner:        owner,
		Caller:       caller,
		Address:      h.address,
		ABI:          h.handler.ABI,
		Created:      time.Now(),
		IsMainModule: reg.main.Contains(h.address),
		seq:          reg.seq,
		hook:         weak.Make(h),
	}
}

func (reg *Registry) remove(id uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if e, ok := reg.entries[id]; ok && reg.live[e.Address] == id {
		delete(reg.live, e.Address)
	}
	delete(reg.entries, id)
}

func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.entries)
}

// Entries returns a copy of every entry in registration order.
func (reg *Registry) Entries() []Entry {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	result := make([]Entry, 0, len(reg.entries))
	for _, e := range reg.entries {
		result = append(result, *e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].seq < result[j].seq
	})
	return result
}

// Lookup returns the entry registered under id.
func (reg *Registry) Lookup(id uuid.UUID) (Entry, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	e, ok := reg.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// DisposeOwner disposes every hook owner registered, as when an extension
// unloads. Failures are joined; hooks that failed to dispose stay registered.
func (reg *Registry) DisposeOwner(owner string) error {
	return reg.disposeWhere(func(e *Entry) bool {
		return e.Owner == owner
	})
}

// DisposeAll disposes every registered hook.
func (reg *Registry) DisposeAll() error {
	return reg.disposeWhere(func(*Entry) bool {
		return true
	})
}

func (reg *Registry) disposeWhere(match func(*Entry) bool) error {
	var hooks []*Hook

	reg.mu.Lock()
	for id, e := range reg.entries {
		if !match(e) {
			continue
		}
		h := e.hook.Value()
		if h == nil {
			// Collected without Dispose; its patch may still be live, so the
			// address stays claimed
			reg.log.Warn("hook ", id.String(), " owned by ", e.Owner, " was collected without being disposed")
			delete(reg.entries, id)
			continue
		}
		hooks = append(hooks, h)
	}
	reg.mu.Unlock()

	var errs []error
	for _, h := range hooks {
		if err := h.Dispose(); err != nil {
			errs = append(errs, err)
		}
	}

	reg.log.Infoln("Disposed", len(hooks)-len(errs), "of", len(hooks), "hooks")
	return errors.Join(errs...)
}
