package hook

import (
	"fmt"

	"gosig/process"
)

const maxJumpHops = 32

// FollowJmp resolves addr through unconditional jumps already planted there,
// returning the function the chain ends in. Hooking that function instead of
// another component's stub keeps the two hooks independent of each other.
//
// Recognised forms: E9 rel32, EB rel8, FF 25 [rip+disp32] and REX.W FF 25.
// stop reports addresses to leave alone, such as ones this host already hooked.
func FollowJmp(mem process.Memory, addr process.ProcessMemoryAddress, stop func(process.ProcessMemoryAddress) bool) (process.ProcessMemoryAddress, error) {
	for hop := 0; hop <= maxJumpHops; hop++ {
		if stop != nil && stop(addr) {
			return addr, nil
		}

		code, err := mem.ReadMemory(addr, 2)
		if err != nil {
			return 0, fmt.Errorf("read code at %s: %w", addr.ToString(), err)
		}

		next, ok, err := jumpTarget(mem, addr, code)
		if err != nil {
			return 0, err
		}
		if !ok {
			return addr, nil
		}
		addr = next
	}

	return 0, fmt.Errorf("%w: more than %d hops", ErrJumpLoop, maxJumpHops)
}

func jumpTarget(mem process.Memory, addr process.ProcessMemoryAddress, code []byte) (process.ProcessMemoryAddress, bool, error) {
	switch {
	case code[0] == 0xE9:
		rel, err := process.ReadINT32(mem, addr+1)
		if err != nil {
			return 0, false, err
		}
		return addr.Add(5 + int64(rel)), true, nil

	case code[0] == 0xEB:
		rel, err := process.ReadINT8(mem, addr+1)
		if err != nil {
			return 0, false, err
		}
		return addr.Add(2 + int64(rel)), true, nil

	case code[0] == 0xFF && code[1] == 0x25:
		return indirectTarget(mem, addr, 2)

	case code[0] == 0x48:
		op, err := mem.ReadMemory(addr+1, 2)
		if err != nil {
			return 0, false, err
		}
		if op[0] == 0xFF && op[1] == 0x25 {
			return indirectTarget(mem, addr, 3)
		}
	}

	return 0, false, nil
}

// indirectTarget reads the slot of a jmp qword ptr [rip+disp32] whose
// displacement starts at addr+dispAt.
func indirectTarget(mem process.Memory, addr process.ProcessMemoryAddress, dispAt int64) (process.ProcessMemoryAddress, bool, error) {
	disp, err := process.ReadINT32(mem, addr.Add(dispAt))
	if err != nil {
		return 0, false, err
	}
	slot := addr.Add(dispAt + 4 + int64(disp))
	target, err := process.ReadPOINTER(mem, slot)
	if err != nil {
		return 0, false, fmt.Errorf("read jump slot at %s: %w", slot.ToString(), err)
	}
	return target, true, nil
}
