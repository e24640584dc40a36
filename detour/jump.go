package detour

import (
	"encoding/binary"
	"math"

	"gosig/process"
)

const (
	nearJumpSize = 5
	absJumpSize  = 14
	nop          = 0x90
)

// fits32 reports whether to is reachable from a rel32 operand whose
// instruction ends at next.
func fits32(next, to process.ProcessMemoryAddress) bool {
	d := int64(to) - int64(next)
	return d >= math.MinInt32 && d <= math.MaxInt32
}

func rel32(next, to process.ProcessMemoryAddress) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(int32(int64(to)-int64(next))))
}

// nearJump encodes jmp rel32 placed at from.
func nearJump(from, to process.ProcessMemoryAddress) []byte {
	return append([]byte{0xE9}, rel32(from+nearJumpSize, to)...)
}

func nearCall(from, to process.ProcessMemoryAddress) []byte {
	return append([]byte{0xE8}, rel32(from+5, to)...)
}

// absJump encodes jmp qword ptr [rip+0] followed by the target.
func absJump(to process.ProcessMemoryAddress) []byte {
	code := []byte{0xFF, 0x25, 0x00, 0x00, 0x00, 0x00}
	return binary.LittleEndian.AppendUint64(code, uint64(to))
}

// absCall encodes call qword ptr [rip+2]; jmp +8; followed by the target.
func absCall(to process.ProcessMemoryAddress) []byte {
	code := []byte{0xFF, 0x15, 0x02, 0x00, 0x00, 0x00, 0xEB, 0x08}
	return binary.LittleEndian.AppendUint64(code, uint64(to))
}

// jumpTo picks the shortest jump from from to to.
func jumpTo(from, to process.ProcessMemoryAddress) []byte {
	if fits32(from+nearJumpSize, to) {
		return nearJump(from, to)
	}
	return absJump(to)
}
