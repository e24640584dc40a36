package hook

import (
	"fmt"

	"gosig/process"
)

// ABI names the native calling convention of a function. A hook only
// installs when its target and handler carry the same tag; a mismatch would
// corrupt registers and stack silently once the target is called.
type ABI uint8

const (
	ABIUnknown  ABI = iota
	ABIWin64        // Microsoft x64
	ABISysV64       // System V AMD64
	ABICdecl        // x86 cdecl
	ABIStdcall      // x86 stdcall
	ABIFastcall     // x86 fastcall
	ABIThiscall     // x86 thiscall
)

var abiNames = map[ABI]string{
	ABIUnknown:  "unknown",
	ABIWin64:    "win64",
	ABISysV64:   "sysv64",
	ABICdecl:    "cdecl",
	ABIStdcall:  "stdcall",
	ABIFastcall: "fastcall",
	ABIThiscall: "thiscall",
}

func (a ABI) String() string {
	if name, ok := abiNames[a]; ok {
		return name
	}
	return fmt.Sprintf("abi(%d)", uint8(a))
}

// Target is a function to intercept.
type Target struct {
	Address process.ProcessMemoryAddress
	ABI     ABI
}

// Handler is the native entry point control is redirected to.
type Handler struct {
	Entry uintptr
	ABI   ABI
}

func checkABI(target Target, handler Handler) error {
	if target.ABI == ABIUnknown || target.ABI != handler.ABI {
		return fmt.Errorf("%w: target %s, handler %s", ErrABIMismatch, target.ABI, handler.ABI)
	}
	return nil
}
