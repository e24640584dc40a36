package module_image

import (
	"fmt"

	"gosig/process"
)

// ResolveRelativeAddress applies a rel32 displacement to the address of the
// instruction that follows it.
func ResolveRelativeAddress(next process.ProcessMemoryAddress, rel int32) process.ProcessMemoryAddress {
	return next.Add(int64(rel))
}

// readCallSig resolves the near CALL or JMP at addr to its target.
func (s *SearchSpace) readCallSig(addr process.ProcessMemoryAddress) (process.ProcessMemoryAddress, error) {
	rel, err := process.ReadINT32(s.memory(), addr+1)
	if err != nil {
		return 0, fmt.Errorf("read branch displacement at %s: %w", addr.ToString(), err)
	}
	return ResolveRelativeAddress(addr+relBranchSize, rel), nil
}

// GetStaticAddressFromSig locates a global referenced by the instruction a
// signature matches. offset skips from the match to the instruction carrying
// the operand. From there each byte position c is tried as an opcode followed
// by a rel32, and the first c+5+rel32 landing in .data or .rdata wins.
//
// There is no instruction boundary awareness: unrelated bytes that happen to
// decode to an in range address are accepted.
func (s *SearchSpace) GetStaticAddressFromSig(text string, offset int) (process.ProcessMemoryAddress, error) {
	sig, err := compile(text)
	if err != nil {
		return 0, err
	}

	instr, err := s.scanSection(s.Text, sig, ".text")
	if err != nil {
		return 0, err
	}

	mem := s.memory()
	end := s.Range().End()
	for c := instr.Add(int64(offset)); c >= s.Base && c+relBranchSize <= end; c++ {
		rel, err := process.ReadINT32(mem, c+1)
		if err != nil {
			return 0, fmt.Errorf("read displacement at %s: %w", (c + 1).ToString(), err)
		}

		target := ResolveRelativeAddress(c+relBranchSize, rel)
		if !s.IsInModule(target) {
			continue
		}

		rva := uint64(target - s.Base)
		if s.Data.Contains(rva) || s.RData.Contains(rva) {
			s.log.Debugln("static", sig.String(), "resolved at", target.ToString(), "via", c.ToString())
			return target, nil
		}
	}

	return 0, fmt.Errorf("%w: %s+%d", ErrStaticAddressNotFound, sig, offset)
}
