// Package detour is the native hook.Backend for x86-64: it steals whole
// instructions from the target's prologue into a trampoline and patches a
// jump to the handler over them.
package detour

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"gosig/hook"
	"gosig/process"
)

const (
	// maxPrologue is how much of the target is decoded. The longest
	// instruction starting before an absolute jump patch ends within it.
	maxPrologue = absJumpSize - 1 + 15

	blockSize   = 0x100
	relayOffset = 0xF0 // absolute jump to the handler when it is out of rel32 reach
)

var (
	ErrStillEnabled = errors.New("detour still enabled")
	ErrReleased     = errors.New("detour released")

	// ErrPatchOverwritten is returned by Disable when the target no longer
	// holds this detour's patch. The stolen bytes are not written back.
	ErrPatchOverwritten = errors.New("patch overwritten")
)

// Backend installs detours into mem, taking trampolines from alloc. One lock
// serialises every patch the backend writes.
type Backend struct {
	mem   process.Memory
	alloc Allocator
	log   *logger.Logger

	mu sync.Mutex
}

var _ hook.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithLogger(l *logger.Logger) Option {
	return func(b *Backend) {
		b.log = l
	}
}

func NewBackend(mem process.Memory, alloc Allocator, options ...Option) *Backend {
	b := &Backend{
		mem:   mem,
		alloc: alloc,
	}

	for _, opt := range options {
		opt(b)
	}

	if b.log == nil {
		b.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "detour"))
	}

	return b
}

// Install builds the trampoline for target and prepares, without writing,
// the patch that redirects it to handler.
func (b *Backend) Install(target process.ProcessMemoryAddress, handler uintptr) (hook.Detour, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	code, err := b.mem.ReadMemory(target, maxPrologue)
	if err != nil {
		return nil, fmt.Errorf("read prologue at %s: %w", target.ToString(), err)
	}

	block, err := b.alloc.Alloc(target, blockSize)
	if err != nil {
		return nil, err
	}

	d, err := b.build(target, process.ProcessMemoryAddress(handler), code, block)
	if err != nil {
		_ = b.alloc.Free(block, blockSize)
		return nil, err
	}

	b.log.Debugln("detour at", target.ToString(), "steals", len(d.stolen), "bytes, trampoline", block.ToString())
	return d, nil
}

func (b *Backend) build(target, handler process.ProcessMemoryAddress, code []byte, block process.ProcessMemoryAddress) (*Detour, error) {
	relay := block + relayOffset

	var patch, relayCode []byte
	switch {
	case fits32(target+nearJumpSize, handler):
		patch = nearJump(target, handler)
	case fits32(target+nearJumpSize, relay):
		patch = nearJump(target, relay)
		relayCode = absJump(handler)
	default:
		patch = absJump(handler)
	}

	tramp, stolen, err := relocate(code, target, block, len(patch))
	if err != nil {
		return nil, err
	}
	tramp = append(tramp, jumpTo(block.Add(int64(len(tramp))), target.Add(int64(stolen)))...)
	if len(tramp) > relayOffset {
		return nil, fmt.Errorf("%w: trampoline for %s needs %d bytes", ErrUnsupportedInstruction, target.ToString(), len(tramp))
	}

	if err := b.mem.WriteMemory(block, tramp); err != nil {
		return nil, fmt.Errorf("write trampoline: %w", err)
	}
	if relayCode != nil {
		if err := b.mem.WriteMemory(relay, relayCode); err != nil {
			return nil, fmt.Errorf("write relay: %w", err)
		}
	}

	for len(patch) < stolen {
		patch = append(patch, nop)
	}

	return &Detour{
		b:      b,
		target: target,
		block:  block,
		stolen: append([]byte(nil), code[:stolen]...),
		patch:  patch,
	}, nil
}

// Detour is one installed trampoline and the patch that activates it.
type Detour struct {
	b      *Backend
	target process.ProcessMemoryAddress
	block  process.ProcessMemoryAddress
	stolen []byte
	patch  []byte

	enabled  bool
	released bool
}

func (d *Detour) Original() uintptr {
	return uintptr(d.block)
}

func (d *Detour) Enable() error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	if d.enabled {
		return nil
	}
	if err := d.b.mem.WriteMemory(d.target, d.patch); err != nil {
		return fmt.Errorf("write patch at %s: %w", d.target.ToString(), err)
	}
	d.enabled = true
	return nil
}

func (d *Detour) Disable() error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()

	if d.released {
		return ErrReleased
	}
	if !d.enabled {
		return nil
	}

	current, err := d.b.mem.ReadMemory(d.target, process.ProcessMemorySize(len(d.patch)))
	if err != nil {
		return fmt.Errorf("read patch at %s: %w", d.target.ToString(), err)
	}
	if !bytes.Equal(current, d.patch) {
		return fmt.Errorf("%w at %s", ErrPatchOverwritten, d.target.ToString())
	}

	if err := d.b.mem.WriteMemory(d.target, d.stolen); err != nil {
		return fmt.Errorf("restore code at %s: %w", d.target.ToString(), err)
	}
	d.enabled = false
	return nil
}

func (d *Detour) Release() error {
	d.b.mu.Lock()
	defer d.b.mu.Unlock()

	if d.released {
		return nil
	}
	if d.enabled {
		return ErrStillEnabled
	}
	if err := d.b.alloc.Free(d.block, blockSize); err != nil {
		return fmt.Errorf("free trampoline %s: %w", d.block.ToString(), err)
	}
	d.released = true
	return nil
}
