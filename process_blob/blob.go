package process_blob

import (
	"errors"
	"fmt"

	"gosig/process"
)

var (
	ErrOutOfBounds = errors.New("address out of bounds")
	ErrReleased    = errors.New("blob released")
)

// ProcessBlob is an owned byte arena standing in for [base, base+len(data))
// of some address space. Callers address it with live addresses; Offset and
// LiveAddress translate between the two views.
type ProcessBlob struct {
	baseaddress process.ProcessMemoryAddress
	data        []byte
}

var _ process.Memory = (*ProcessBlob)(nil)

func NewProcessBlob(baseAddress process.ProcessMemoryAddress, data []byte) *ProcessBlob {
	return &ProcessBlob{
		baseaddress: baseAddress,
		data:        data,
	}
}

// Snapshot copies [base, base+size) out of mem into a new arena in one read.
func Snapshot(mem process.Memory, base process.ProcessMemoryAddress, size process.ProcessMemorySize) (*ProcessBlob, error) {
	data, err := mem.ReadMemory(base, size)
	if err != nil {
		return nil, fmt.Errorf("snapshot 0x%x+0x%x: %w", uint64(base), uint64(size), err)
	}

	// ReadMemory implementations may hand back a view; the arena must own its bytes
	owned := make([]byte, len(data))
	copy(owned, data)

	return NewProcessBlob(base, owned), nil
}

func (p *ProcessBlob) Data() []byte {
	return p.data
}

func (p *ProcessBlob) Base() process.ProcessMemoryAddress {
	return p.baseaddress
}

func (p *ProcessBlob) Size() process.ProcessMemorySize {
	return process.ProcessMemorySize(len(p.data))
}

func (p *ProcessBlob) Range() process.Range {
	return process.Range{Address: p.baseaddress, Size: p.Size()}
}

// Offset translates a live address into an index into the arena.
func (p *ProcessBlob) Offset(addr process.ProcessMemoryAddress) (int, error) {
	if p.data == nil {
		return 0, ErrReleased
	}
	if !p.Range().Contains(addr) {
		return 0, fmt.Errorf("%w: 0x%x", ErrOutOfBounds, uint64(addr))
	}
	return int(addr - p.baseaddress), nil
}

// LiveAddress translates an arena index back into the address space it was copied from.
func (p *ProcessBlob) LiveAddress(offset int) process.ProcessMemoryAddress {
	return p.baseaddress + process.ProcessMemoryAddress(offset)
}

// View returns the arena bytes backing [addr, addr+size) without copying.
func (p *ProcessBlob) View(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if p.data == nil {
		return nil, ErrReleased
	}
	if addr < p.baseaddress || uint64(addr-p.baseaddress)+uint64(size) > uint64(len(p.data)) {
		return nil, fmt.Errorf("%w: 0x%x+0x%x", ErrOutOfBounds, uint64(addr), uint64(size))
	}
	offset := uint64(addr - p.baseaddress)
	return p.data[offset : offset+uint64(size)], nil
}

func (p *ProcessBlob) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	view, err := p.View(addr, size)
	if err != nil {
		return nil, err
	}
	result := make([]byte, len(view))
	copy(result, view)
	return result, nil
}

func (p *ProcessBlob) WriteMemory(addr process.ProcessMemoryAddress, data []byte) error {
	view, err := p.View(addr, process.ProcessMemorySize(len(data)))
	if err != nil {
		return err
	}
	copy(view, data)
	return nil
}

// Release drops the arena. Every later access fails with ErrReleased.
func (p *ProcessBlob) Release() {
	p.data = nil
}
