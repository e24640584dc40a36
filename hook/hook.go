// Package hook owns the lifecycle of function interceptions and the
// registry that tracks them.
package hook

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"gosig/process"
)

var (
	// ErrObjectDisposed is returned by every operation on a disposed Hook.
	ErrObjectDisposed = errors.New("hook disposed")

	// ErrABIMismatch is returned when target and handler calling conventions differ.
	ErrABIMismatch = errors.New("calling convention mismatch")

	// ErrJumpLoop is returned when a jump chain does not end.
	ErrJumpLoop = errors.New("jump chain too long")

	// ErrAlreadyHooked is returned when the resolved address already carries
	// a live hook from the same registry.
	ErrAlreadyHooked = errors.New("address already hooked")
)

// Hook redirects one function into a handler.
//
// A Hook is created disabled. Original stays valid until Dispose regardless
// of Enable and Disable. Dispose always disables before releasing the
// trampoline, since threads outside the host may be executing through it.
type Hook struct {
	id      uuid.UUID
	reg     *Registry
	address process.ProcessMemoryAddress
	handler Handler

	mu       sync.Mutex
	detour   Detour
	enabled  bool
	disposed bool
}

// New intercepts target for owner. The target address is first resolved
// through any jumps already planted there.
func New(reg *Registry, owner string, target Target, handler Handler) (*Hook, error) {
	if err := checkABI(target, handler); err != nil {
		return nil, err
	}

	addr, err := reg.followJmp(target.Address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", target.Address.ToString(), err)
	}

	if err := reg.rememberOriginal(addr); err != nil {
		return nil, err
	}

	id := uuid.New()
	if err := reg.claim(addr, id); err != nil {
		return nil, err
	}

	detour, err := reg.backend.Install(addr, handler.Entry)
	if err != nil {
		reg.unclaim(addr, id)
		return nil, fmt.Errorf("install detour at %s: %w", addr.ToString(), err)
	}

	h := &Hook{
		id:      id,
		reg:     reg,
		address: addr,
		handler: handler,
		detour:  detour,
	}

	caller := "unknown"
	if _, file, line, ok := runtime.Caller(1); ok {
		caller = fmt.Sprintf("%s:%d", file, line)
	}
	reg.add(h, owner, caller)

	if addr != target.Address {
		reg.log.Infoln("Hook", h.id.String(), "followed", target.Address.ToString(), "to", addr.ToString())
	}
	reg.log.Infoln("Hook", h.id.String(), "installed at", addr.ToString(), "for", owner)
	return h, nil
}

func (h *Hook) ID() uuid.UUID {
	return h.id
}

// Address returns the resolved address the detour sits on.
func (h *Hook) Address() process.ProcessMemoryAddress {
	return h.address
}

func (h *Hook) IsEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *Hook) IsDisposed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disposed
}

// Original returns the entry point that runs the function as it was before the hook.
func (h *Hook) Original() (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.disposed {
		return 0, ErrObjectDisposed
	}
	return h.detour.Original(), nil
}

// Enable starts redirecting calls into the handler. Enabling twice is harmless.
func (h *Hook) Enable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return ErrObjectDisposed
	}
	if h.enabled {
		return nil
	}

	if err := h.detour.Enable(); err != nil {
		return fmt.Errorf("enable hook at %s: %w", h.address.ToString(), err)
	}
	h.enabled = true
	h.reg.log.Debugln("hook", h.id.String(), "enabled")
	return nil
}

// Disable stops redirecting. Disabling twice is harmless.
func (h *Hook) Disable() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return ErrObjectDisposed
	}
	return h.disableLocked()
}

func (h *Hook) disableLocked() error {
	if !h.enabled {
		return nil
	}

	if err := h.detour.Disable(); err != nil {
		return fmt.Errorf("disable hook at %s: %w", h.address.ToString(), err)
	}
	h.enabled = false
	h.reg.log.Debugln("hook", h.id.String(), "disabled")
	return nil
}

// Dispose disables the hook, releases the trampoline and drops the registry
// entry. If disabling fails the hook is left enabled and intact, because
// releasing a live trampoline would pull code from under running threads.
// Later calls are no-ops.
func (h *Hook) Dispose() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.disposed {
		return nil
	}

	if err := h.disableLocked(); err != nil {
		return err
	}

	h.disposed = true
	h.reg.remove(h.id)

	if err := h.detour.Release(); err != nil {
		h.reg.log.Warn("release of hook ", h.id.String(), " failed: ", err)
		return fmt.Errorf("release hook at %s: %w", h.address.ToString(), err)
	}

	h.reg.log.Infoln("Hook", h.id.String(), "disposed")
	return nil
}
