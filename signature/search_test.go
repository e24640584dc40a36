package signature

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naiveIndex is the reference the Horspool search must agree with.
func naiveIndex(buf []byte, sig Signature) int {
	for i := 0; i+sig.Len() <= len(buf); i++ {
		if sig.Matches(buf[i:]) {
			return i
		}
	}
	return NotFound
}

func TestIndexOfMisalignedWildcard(t *testing.T) {
	sig := MustCompile("90 90 ?? 90")

	assert.Equal(t, 0, IndexOf([]byte{0x90, 0x90, 0x77, 0x90, 0x00}, sig))
	assert.Equal(t, NotFound, IndexOf([]byte{0x90, 0x77, 0x90, 0x90}, sig))
}

func TestIndexOfNeedleLongerThanBuffer(t *testing.T) {
	sig := MustCompile("01 02 03 04")
	assert.Equal(t, NotFound, IndexOf([]byte{0x01, 0x02, 0x03}, sig))
	assert.Equal(t, NotFound, IndexOf(nil, sig))
}

func TestIndexOfSingleByte(t *testing.T) {
	assert.Equal(t, 2, IndexOf([]byte{0, 1, 0xCC, 0xCC}, MustCompile("CC")))
	assert.Equal(t, 0, IndexOf([]byte{7}, MustCompile("??")))
}

func TestIndexOfTrailingWildcard(t *testing.T) {
	buf := []byte{0xE8, 0x00, 0xE8, 0x11, 0x22}
	assert.Equal(t, 2, IndexOf(buf, MustCompile("E8 11 ??")))
}

func TestShiftTable(t *testing.T) {
	plain := shiftTable(MustCompile("48 8B 05 C3"))
	assert.Equal(t, 4, plain[0x00], "absent bytes skip the whole needle")
	assert.Equal(t, 3, plain[0x48])
	assert.Equal(t, 1, plain[0x05])

	masked := shiftTable(MustCompile("48 ?? 05 C3"))
	assert.Equal(t, 2, masked[0x00], "no skip past the last wildcard")
	assert.Equal(t, 1, masked[0x05])

	leading := shiftTable(MustCompile("?? 8B 05"))
	assert.Equal(t, 2, leading[0x00])

	assert.Equal(t, 1, shiftTable(MustCompile("48 8B ??"))[0x00])
	assert.Equal(t, 1, shiftTable(MustCompile("CC"))[0x00])
}

func TestIndexOfFirstMatchWins(t *testing.T) {
	buf := []byte{0, 0xAB, 0x01, 0xCD, 0, 0xAB, 0x02, 0xCD}
	sig := MustCompile("AB ?? CD")
	assert.Equal(t, 1, IndexOf(buf, sig))
	assert.Equal(t, []int{1, 5}, IndexAll(buf, sig))
}

func TestIndexAllOverlapping(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, IndexAll([]byte{0x90, 0x90, 0x90, 0x90}, MustCompile("90 90")))
	assert.Nil(t, IndexAll([]byte{0x90}, MustCompile("90 90")))
}

func TestIndexOfEmbeddedAtAnyOffset(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	patterns := []string{
		"48 8B 05 ?? ?? ?? ?? 48 85 C0",
		"?? 8B ?? 24 ?? 57",
		"E8 ?? ?? ?? ?? ??",
		"40 53 48 83 EC 20",
		"** ** C3",
	}

	for _, text := range patterns {
		sig := MustCompile(text)
		for trial := 0; trial < 200; trial++ {
			buf := make([]byte, 64+rng.Intn(256))
			rng.Read(buf)

			k := rng.Intn(len(buf) - sig.Len() + 1)
			for i, b := range sig.Needle {
				if sig.Mask[i] {
					buf[k+i] = byte(rng.Intn(256))
					continue
				}
				buf[k+i] = b
			}

			got := IndexOf(buf, sig)
			require.Equal(t, naiveIndex(buf, sig), got, "pattern %q trial %d", text, trial)
			require.LessOrEqual(t, got, k)
			require.NotEqual(t, NotFound, got)
		}
	}
}

func TestIndexOfPlantedInZeroFill(t *testing.T) {
	sig := MustCompile("AA ?? BB CC")
	for _, filler := range []byte{0x00, 0xAA, 0xBB, 0xFF} {
		for k := 0; k < 32; k++ {
			buf := bytes.Repeat([]byte{0x11}, 40)
			copy(buf[k:], []byte{0xAA, filler, 0xBB, 0xCC})
			assert.Equal(t, k, IndexOf(buf, sig), "filler %x offset %d", filler, k)
		}
	}
}

func BenchmarkIndexOf(b *testing.B) {
	buf := make([]byte, 1<<20)
	rand.New(rand.NewSource(2)).Read(buf)
	sig := MustCompile("48 89 5C 24 ?? 57 48 83 EC 20 8B FA 48 8B D9")
	copy(buf[len(buf)-32:], []byte{0x48, 0x89, 0x5C, 0x24, 0x08, 0x57, 0x48, 0x83, 0xEC, 0x20, 0x8B, 0xFA, 0x48, 0x8B, 0xD9})

	b.SetBytes(int64(len(buf)))
	for i := 0; i < b.N; i++ {
		IndexOf(buf, sig)
	}
}
