package hook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookOriginalKeepsPreHookBehaviour(t *testing.T) {
	m, _, reg := setup()
	target := codeBase + 0x100
	m.define(uintptr(target), func(x int) int { return x + 1 })

	var h *Hook
	m.define(handlerBase, func(x int) int {
		orig, err := h.Original()
		require.NoError(t, err)
		return m.call(orig, x) * 10
	})

	h, err := New(reg, "test", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)
	assert.False(t, h.IsEnabled(), "hooks start disabled")
	assert.Equal(t, 3, m.call(uintptr(target), 2))

	require.NoError(t, h.Enable())
	assert.True(t, h.IsEnabled())
	assert.Equal(t, 30, m.call(uintptr(target), 2))

	orig, err := h.Original()
	require.NoError(t, err)
	assert.Equal(t, 3, m.call(orig, 2))

	require.NoError(t, h.Disable())
	assert.Equal(t, 3, m.call(uintptr(target), 2))
	assert.Equal(t, 3, m.call(orig, 2), "original stays callable while disabled")
}

func TestHookEnableDisableIdempotent(t *testing.T) {
	m, _, reg := setup()
	target := codeBase + 0x100
	m.define(uintptr(target), func(x int) int { return x })
	m.define(handlerBase, func(x int) int { return -x })

	h, err := New(reg, "test", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)

	require.NoError(t, h.Disable())
	require.NoError(t, h.Enable())
	require.NoError(t, h.Enable())
	assert.Equal(t, -4, m.call(uintptr(target), 4))
	require.NoError(t, h.Disable())
	require.NoError(t, h.Disable())
	assert.Equal(t, 4, m.call(uintptr(target), 4))
}

func TestHookDispose(t *testing.T) {
	m, b, reg := setup()
	target := codeBase + 0x200
	m.define(uintptr(target), func(x int) int { return x + 1 })
	m.define(handlerBase, func(x int) int { return 0 })

	h, err := New(reg, "test", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)
	require.NoError(t, h.Enable())
	require.Equal(t, 1, reg.Len())

	require.NoError(t, h.Dispose())
	assert.True(t, h.IsDisposed())
	assert.False(t, h.IsEnabled())
	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, 8, m.call(uintptr(target), 7), "target restored")

	d := b.detours[0]
	assert.True(t, d.released)
	assert.False(t, d.releasedWhileOn, "trampoline released while still enabled")

	require.NoError(t, h.Dispose(), "second dispose is a no-op")

	assert.ErrorIs(t, h.Enable(), ErrObjectDisposed)
	assert.ErrorIs(t, h.Disable(), ErrObjectDisposed)
	_, err = h.Original()
	assert.ErrorIs(t, err, ErrObjectDisposed)
}

func TestHookDisposeKeepsHookWhenDisableFails(t *testing.T) {
	m, b, reg := setup()
	target := codeBase + 0x200
	m.define(uintptr(target), func(x int) int { return x })
	m.define(handlerBase, func(x int) int { return 0 })

	h, err := New(reg, "test", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)
	require.NoError(t, h.Enable())

	b.disableErr = errInjected
	err = h.Dispose()
	require.ErrorIs(t, err, errInjected)
	assert.False(t, h.IsDisposed())
	assert.True(t, h.IsEnabled())
	assert.Equal(t, 1, reg.Len())
	assert.False(t, b.detours[0].released)

	b.disableErr = nil
	require.NoError(t, h.Dispose())
	assert.True(t, h.IsDisposed())
}

func TestHookDisposeReportsReleaseFailure(t *testing.T) {
	m, b, reg := setup()
	target := codeBase + 0x200
	m.define(uintptr(target), func(x int) int { return x })

	h, err := New(reg, "test", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)

	b.releaseErr = errInjected
	require.ErrorIs(t, h.Dispose(), errInjected)
	assert.True(t, h.IsDisposed())
	assert.Equal(t, 0, reg.Len())
}

func TestHookABIMismatch(t *testing.T) {
	m, b, reg := setup()
	target := codeBase + 0x100
	m.define(uintptr(target), func(x int) int { return x })

	tests := []struct {
		name    string
		target  ABI
		handler ABI
	}{
		{"different", ABIWin64, ABISysV64},
		{"thiscall to cdecl", ABIThiscall, ABICdecl},
		{"unknown", ABIUnknown, ABIUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(reg, "test", Target{Address: target, ABI: tt.target}, Handler{Entry: handlerBase, ABI: tt.handler})
			require.ErrorIs(t, err, ErrABIMismatch)
		})
	}

	assert.Equal(t, 0, b.installs)
	assert.Equal(t, 0, reg.Len())
}

func TestHookFollowsForeignJumps(t *testing.T) {
	m, _, reg := setup()
	a, e := writeJumpChain(t, m)
	m.define(uintptr(e), func(x int) int { return x * 2 })

	h, err := New(reg, "test", sysv(a), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)
	assert.Equal(t, e, h.Address())

	entry, ok := reg.Lookup(h.ID())
	require.True(t, ok)
	assert.Equal(t, e, entry.Address)
}

func TestHookStopsAtOwnHooks(t *testing.T) {
	m, _, reg := setup()
	a, e := writeJumpChain(t, m)
	m.define(uintptr(e), func(x int) int { return x })

	first, err := New(reg, "first", sysv(e), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)
	require.Equal(t, e, first.Address())

	// what an enabled detour leaves at e: a jump out to its handler
	put(t, m, e, append([]byte{0xE9}, le32(int32(codeBase+0x800-(e+5)))...)...)

	_, err = New(reg, "second", sysv(a), Handler{Entry: handlerBase + 0x10, ABI: ABISysV64})
	require.ErrorIs(t, err, ErrAlreadyHooked, "resolution must stop where we already hooked")
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, first.Dispose())

	second, err := New(reg, "second", sysv(a), Handler{Entry: handlerBase + 0x10, ABI: ABISysV64})
	require.NoError(t, err)
	assert.Equal(t, e, second.Address())
}

func TestHookRejectsSecondHookOnAddress(t *testing.T) {
	m, b, reg := setup()
	target := codeBase + 0x100
	m.define(uintptr(target), func(x int) int { return x })

	first, err := New(reg, "first", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)
	require.NoError(t, first.Enable())

	_, err = New(reg, "second", sysv(target), Handler{Entry: handlerBase + 0x10, ABI: ABISysV64})
	require.ErrorIs(t, err, ErrAlreadyHooked)
	assert.Equal(t, 1, b.installs)
	assert.Equal(t, 1, reg.Len())

	require.NoError(t, first.Dispose())
	_, err = New(reg, "second", sysv(target), Handler{Entry: handlerBase + 0x10, ABI: ABISysV64})
	require.NoError(t, err)
	assert.Equal(t, 2, b.installs)
}

func TestHookConcurrentToggle(t *testing.T) {
	m, b, reg := setup()
	target := codeBase + 0x100
	m.define(uintptr(target), func(x int) int { return x })
	m.define(handlerBase, func(x int) int { return -x })

	h, err := New(reg, "test", sysv(target), Handler{Entry: handlerBase, ABI: ABISysV64})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if (i+j)%2 == 0 {
					_ = h.Enable()
				} else {
					_ = h.Disable()
				}
				_, _ = h.Original()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, h.IsEnabled(), b.detours[0].enabled)

	require.NoError(t, h.Dispose())
	assert.False(t, b.detours[0].enabled)
	assert.False(t, b.detours[0].releasedWhileOn)
}
