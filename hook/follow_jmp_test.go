package hook

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosig/process"
	"gosig/process_blob"
)

func put(t *testing.T, m *machine, addr process.ProcessMemoryAddress, data ...byte) {
	t.Helper()
	require.NoError(t, m.mem.WriteMemory(addr, data))
}

func le32(v int32) []byte {
	return binary.LittleEndian.AppendUint32(nil, uint32(v))
}

func le64(v process.ProcessMemoryAddress) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(v))
}

// writeJumpChain plants one of each recognised jump form:
// A -E9-> B -EB-> C -FF25-> D -48FF25-> E.
func writeJumpChain(t *testing.T, m *machine) (a, e process.ProcessMemoryAddress) {
	t.Helper()
	a = codeBase + 0x100
	b := codeBase + 0x120
	c := codeBase + 0x140
	d := codeBase + 0x160
	e = codeBase + 0x180

	put(t, m, a, append([]byte{0xE9}, le32(int32(b-(a+5)))...)...)
	put(t, m, b, 0xEB, byte(c-(b+2)))

	slotC := codeBase + 0x400
	put(t, m, c, append([]byte{0xFF, 0x25}, le32(int32(slotC-(c+6)))...)...)
	put(t, m, slotC, le64(d)...)

	slotD := codeBase + 0x408
	put(t, m, d, append([]byte{0x48, 0xFF, 0x25}, le32(int32(slotD-(d+7)))...)...)
	put(t, m, slotD, le64(e)...)

	return a, e
}

func TestFollowJmp(t *testing.T) {
	m := newMachine()
	a, e := writeJumpChain(t, m)

	got, err := FollowJmp(m.mem, a, nil)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	got, err = FollowJmp(m.mem, e, nil)
	require.NoError(t, err)
	assert.Equal(t, e, got, "plain code resolves to itself")
}

func TestFollowJmpBackwardShortJump(t *testing.T) {
	m := newMachine()
	from := codeBase + 0x300
	to := codeBase + 0x2F0
	put(t, m, from, 0xEB, byte(int8(int64(to)-int64(from+2))))

	got, err := FollowJmp(m.mem, from, nil)
	require.NoError(t, err)
	assert.Equal(t, to, got)
}

func TestFollowJmpStop(t *testing.T) {
	m := newMachine()
	a, _ := writeJumpChain(t, m)
	c := codeBase + 0x140

	got, err := FollowJmp(m.mem, a, func(addr process.ProcessMemoryAddress) bool {
		return addr == c
	})
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestFollowJmpLoop(t *testing.T) {
	m := newMachine()
	self := codeBase + 0x500
	put(t, m, self, append([]byte{0xE9}, le32(-5)...)...)

	_, err := FollowJmp(m.mem, self, nil)
	require.ErrorIs(t, err, ErrJumpLoop)
}

func TestFollowJmpUnreadable(t *testing.T) {
	m := newMachine()
	from := codeBase + 0x600
	put(t, m, from, append([]byte{0xE9}, le32(0x100000)...)...)

	_, err := FollowJmp(m.mem, from, nil)
	require.ErrorIs(t, err, process_blob.ErrOutOfBounds)
}
