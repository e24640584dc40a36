package module_image

import (
	"fmt"

	"gosig/process"
	"gosig/signature"
)

// Opcodes whose match resolves to the branch target rather than the instruction.
const (
	opCallRel32 = 0xE8
	opJmpRel32  = 0xE9

	relBranchSize = 5 // opcode + rel32
)

// compile keeps signature errors distinguishable from scan errors.
func compile(text string) (signature.Signature, error) {
	sig, err := signature.Compile(text)
	if err != nil {
		return signature.Signature{}, fmt.Errorf("compile %q: %w", text, err)
	}
	return sig, nil
}

// Scan searches [start, start+size) for the first match of sig and returns its live address.
func (s *SearchSpace) Scan(start process.ProcessMemoryAddress, size process.ProcessMemorySize, text string) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}
	return s.scan(start, size, sig, "region")
}

func (s *SearchSpace) scan(start process.ProcessMemoryAddress, size process.ProcessMemorySize, sig signature.Signature, where string) (process.ProcessMemoryAddress, error) {
	if s.closed {
		return 0, ErrClosed
	}

	if size == 0 {
		return 0, fmt.Errorf("%w: %s in empty %s", ErrPatternNotFound, sig, where)
	}

	data, live, err := s.region(start, size)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", where, err)
	}

	idx := signature.IndexOf(data, sig)
	if idx == signature.NotFound {
		return 0, fmt.Errorf("%w: %s in %s", ErrPatternNotFound, sig, where)
	}

	addr := live(idx)
	s.log.Debugln("matched", sig.String(), "in", where, "at", addr.ToString())
	return addr, nil
}

func (s *SearchSpace) scanSection(sec Section, sig signature.Signature, where string) (process.ProcessMemoryAddress, error) {
	return s.scan(s.SectionBase(sec), process.ProcessMemorySize(sec.Size), sig, where)
}

// ScanText finds a signature in the code section. A match on a near CALL or
// JMP resolves to the branch target, so a signature may describe a call site
// and yield the callee.
func (s *SearchSpace) ScanText(text string) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}

	if s.closed {
		return 0, ErrClosed
	}

	key := cacheKey(".text", sig)
	if off, ok := s.cache.lookup(key); ok {
		return s.Base + process.ProcessMemoryAddress(off), nil
	}

	addr, err := s.scanSection(s.Text, sig, ".text")
	if err != nil {
		return 0, err
	}

	op, err := process.ReadUINT8(s.memory(), addr)
	if err != nil {
		return 0, fmt.Errorf("read opcode at %s: %w", addr.ToString(), err)
	}
	if op == opCallRel32 || op == opJmpRel32 {
		if addr, err = s.readCallSig(addr); err != nil {
			return 0, err
		}
	}

	s.cache.store(key, uint64(addr-s.Base))
	return addr, nil
}

// TryScanText is ScanText reporting success as a bool.
func (s *SearchSpace) TryScanText(text string) (process.ProcessMemoryAddress, bool) {
	addr, err := s.ScanText(text)
	return addr, err == nil
}

// ScanTextRaw finds a signature in the code section without branch resolution.
func (s *SearchSpace) ScanTextRaw(text string) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}
	return s.scanSection(s.Text, sig, ".text")
}

// ScanAllText returns every match of a signature in the code section.
func (s *SearchSpace) ScanAllText(text string) ([]process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return nil, err
	}
	if s.closed {
		return nil, ErrClosed
	}
	if s.Text.IsEmpty() {
		return nil, fmt.Errorf("%w: %s in empty .text", ErrPatternNotFound, sig)
	}

	data, live, err := s.region(s.SectionBase(s.Text), process.ProcessMemorySize(s.Text.Size))
	if err != nil {
		return nil, fmt.Errorf("read .text: %w", err)
	}

	offsets := signature.IndexAll(data, sig)
	if len(offsets) == 0 {
		return nil, fmt.Errorf("%w: %s in .text", ErrPatternNotFound, sig)
	}

	results := make([]process.ProcessMemoryAddress, len(offsets))
	for i, off := range offsets {
		results[i] = live(off)
	}
	return results, nil
}

// ScanData finds a signature in the initialized data section.
func (s *SearchSpace) ScanData(text string) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}
	return s.scanSection(s.Data, sig, ".data")
}

// ScanRData finds a signature in the read only data section.
func (s *SearchSpace) ScanRData(text string) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}
	return s.scanSection(s.RData, sig, ".rdata")
}

// ScanModule finds a signature anywhere in the module, headers included.
func (s *SearchSpace) ScanModule(text string) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}
	return s.scan(s.Base, s.Size, sig, "module")
}
