//go:build windows && amd64

package hook

import (
	"syscall"

	"golang.org/x/sys/windows"
)

// NewCallbackHandler wraps a Go function as a Win64 handler. fn must take
// uintptr-sized arguments and return one uintptr, as windows.NewCallback requires.
// The callback slot is never released; the runtime caps them at about 2000.
func NewCallbackHandler(fn any) Handler {
	return Handler{
		Entry: windows.NewCallback(fn),
		ABI:   ABIWin64,
	}
}

// CallOriginal invokes the pre-hook entry point of h with Win64 integer arguments.
func CallOriginal(h *Hook, args ...uintptr) (uintptr, error) {
	entry, err := h.Original()
	if err != nil {
		return 0, err
	}
	r1, _, _ := syscall.SyscallN(entry, args...)
	return r1, nil
}
