package detour

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"gosig/process"
)

var (
	ErrFunctionTooShort       = errors.New("function too short to patch")
	ErrUnsupportedInstruction = errors.New("instruction cannot be relocated")
	ErrRelocationRange        = errors.New("relocated operand out of range")
)

var conditionalJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JE: true, x86asm.JNE: true, x86asm.JG: true, x86asm.JGE: true,
	x86asm.JL: true, x86asm.JLE: true, x86asm.JO: true, x86asm.JNO: true,
	x86asm.JP: true, x86asm.JNP: true, x86asm.JS: true, x86asm.JNS: true,
}

// ends reports instructions after which the bytes that follow may belong to
// another function.
func ends(op x86asm.Op) bool {
	switch op {
	case x86asm.RET, x86asm.LRET, x86asm.JMP, x86asm.INT, x86asm.UD2:
		return true
	}
	return false
}

// relocate copies whole instructions from the start of code, which lives at
// src, until at least minLen bytes are covered, rewriting them to run at dst.
// It returns the relocated code and how many source bytes it consumed.
func relocate(code []byte, src, dst process.ProcessMemoryAddress, minLen int) ([]byte, int, error) {
	var out []byte
	var targets []process.ProcessMemoryAddress
	off := 0

	for off < minLen {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return nil, 0, fmt.Errorf("decode at %s: %w", src.Add(int64(off)).ToString(), err)
		}

		raw := code[off : off+inst.Len]
		here := src.Add(int64(off))
		next := here.Add(int64(inst.Len))
		at := dst.Add(int64(len(out)))

		if ends(inst.Op) && off+inst.Len < minLen {
			return nil, 0, fmt.Errorf("%w: %s ends after %d bytes", ErrFunctionTooShort, inst.Op, off+inst.Len)
		}

		rel, isRel := inst.Args[0].(x86asm.Rel)
		if isRel {
			targets = append(targets, next.Add(int64(rel)))
		}

		switch {
		case isRel && inst.Op == x86asm.JMP:
			out = append(out, jumpTo(at, next.Add(int64(rel)))...)

		case isRel && inst.Op == x86asm.CALL:
			to := next.Add(int64(rel))
			if fits32(at+5, to) {
				out = append(out, nearCall(at, to)...)
			} else {
				out = append(out, absCall(to)...)
			}

		case isRel && conditionalJumps[inst.Op]:
			to := next.Add(int64(rel))
			cc := raw[inst.PCRelOff-1] & 0x0F
			if fits32(at+6, to) {
				out = append(out, 0x0F, 0x80|cc)
				out = append(out, rel32(at+6, to)...)
			} else {
				// inverted short jcc over an absolute jump
				out = append(out, 0x70|(cc^1), absJumpSize)
				out = append(out, absJump(to)...)
			}

		case isRel:
			return nil, 0, fmt.Errorf("%w: %s at %s", ErrUnsupportedInstruction, inst.Op, here.ToString())

		case inst.PCRel == 4:
			disp := int32(binary.LittleEndian.Uint32(raw[inst.PCRelOff:]))
			to := next.Add(int64(disp))
			moved := at.Add(int64(inst.Len))
			if !fits32(moved, to) {
				return nil, 0, fmt.Errorf("%w: %s at %s", ErrRelocationRange, inst.Op, here.ToString())
			}
			fixed := append([]byte(nil), raw...)
			copy(fixed[inst.PCRelOff:], rel32(moved, to))
			out = append(out, fixed...)

		default:
			out = append(out, raw...)
		}

		off += inst.Len
	}

	// a branch back into the stolen bytes would land inside the patch
	end := src.Add(int64(off))
	for _, to := range targets {
		if to >= src && to < end {
			return nil, 0, fmt.Errorf("%w: branch to %s inside the patched bytes", ErrUnsupportedInstruction, to.ToString())
		}
	}

	return out, off, nil
}
