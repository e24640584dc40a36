package module_image

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosig/process"
	"gosig/process_blob"
	"gosig/signature"
)

func TestSectionsLocated(t *testing.T) {
	s, err := NewSearchSpace(newTestModule(), testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, process.ProcessMemorySize(testImageSize), s.Size)
	assert.Equal(t, Section{Offset: 0x1000, Size: 0x1000}, s.Text)
	assert.Equal(t, Section{Offset: 0x2000, Size: 0x800}, s.RData)
	assert.Equal(t, Section{Offset: 0x3000, Size: 0x800}, s.Data)
	assert.Equal(t, uint32(testStamp), s.TimeDateStamp)
	assert.True(t, s.Is64)
	assert.Equal(t, testBase+0x1000, s.SectionBase(s.Text))
}

func TestSectionsLocated32(t *testing.T) {
	mod := process_blob.NewProcessBlob(testBase, buildImage(false, testStamp, defaultSections...))

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.Is64)
	assert.Equal(t, Section{Offset: 0x1000, Size: 0x1000}, s.Text)
	assert.Equal(t, Section{Offset: 0x3000, Size: 0x800}, s.Data)
}

func TestMissingSectionDegradesToEmpty(t *testing.T) {
	mod := newTestModule(testSection{name: ".text", rva: 0x1000, size: 0x1000})

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, Section{}, s.Data)
	assert.Equal(t, Section{}, s.RData)

	_, err = s.ScanData("00 00")
	assert.ErrorIs(t, err, ErrPatternNotFound)
	_, err = s.ScanRData("00")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestInvalidImage(t *testing.T) {
	mod := process_blob.NewProcessBlob(testBase, make([]byte, 0x1000))
	_, err := NewSearchSpace(mod, testBase, 0)
	assert.ErrorIs(t, err, ErrInvalidImage)

	img := buildImage(true, testStamp, defaultSections...)
	img[0x80] = 'X'
	_, err = NewSearchSpace(process_blob.NewProcessBlob(testBase, img), testBase, 0)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestScanTextPlainMatch(t *testing.T) {
	mod := newTestModule()
	want := put(mod, 0x1400, 0x48, 0x89, 0x5C, 0x24, 0x08, 0x57)

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ScanText("48 89 5C 24 ?? 57")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, ok := s.TryScanText("48 89 5C 24 ?? 57")
	assert.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = s.TryScanText("11 22 33 44")
	assert.False(t, ok)
}

func TestScanTextResolvesCall(t *testing.T) {
	for _, d := range []int32{0x300, -0x80} {
		mod := newTestModule()
		site := put(mod, 0x1200, append([]byte{0xE8}, rel32(d)...)...)
		put(mod, 0x1205, 0x48, 0x8B, 0xD8)

		s, err := NewSearchSpace(mod, testBase, 0)
		require.NoError(t, err)

		got, err := s.ScanText("E8 ?? ?? ?? ?? 48 8B D8")
		require.NoError(t, err)
		assert.Equal(t, site.Add(5+int64(d)), got)

		raw, err := s.ScanTextRaw("E8 ?? ?? ?? ?? 48 8B D8")
		require.NoError(t, err)
		assert.Equal(t, site, raw)

		require.NoError(t, s.Close())
	}
}

func TestScanTextResolvesJmp(t *testing.T) {
	mod := newTestModule()
	site := put(mod, 0x1800, append([]byte{0xE9}, rel32(0x10)...)...)

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ScanText("E9 10 00 00 00")
	require.NoError(t, err)
	assert.Equal(t, site+5+0x10, got)
}

func TestScanAllText(t *testing.T) {
	mod := newTestModule()
	a := put(mod, 0x1100, 0x0F, 0x1F, 0x44, 0x00, 0x00)
	b := put(mod, 0x1900, 0x0F, 0x1F, 0x44, 0x00, 0x00)

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	all, err := s.ScanAllText("0F 1F 44 00 00")
	require.NoError(t, err)
	assert.Equal(t, []process.ProcessMemoryAddress{a, b}, all)
}

func TestScanRegionsAndModule(t *testing.T) {
	mod := newTestModule()
	str := put(mod, 0x2100, 'h', 'o', 's', 't', 0)
	glob := put(mod, 0x3040, 0xDE, 0xAD, 0xBE, 0xEF)

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.ScanRData("68 6F 73 74 00")
	require.NoError(t, err)
	assert.Equal(t, str, got)

	got, err = s.ScanData("DE AD BE EF")
	require.NoError(t, err)
	assert.Equal(t, glob, got)

	_, err = s.ScanText("DE AD BE EF")
	assert.ErrorIs(t, err, ErrPatternNotFound)

	got, err = s.ScanModule("4D 5A")
	require.NoError(t, err)
	assert.Equal(t, testBase, got)

	got, err = s.Scan(testBase+0x3000, 0x800, "?? AD BE")
	require.NoError(t, err)
	assert.Equal(t, glob, got)
}

func TestMalformedSignature(t *testing.T) {
	s, err := NewSearchSpace(newTestModule(), testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ScanText("E8 ?? ?")
	assert.ErrorIs(t, err, signature.ErrMalformedSignature)
	_, err = s.GetStaticAddressFromSig("ABC", 0)
	assert.ErrorIs(t, err, signature.ErrMalformedSignature)
}

func TestIsolationScansFrozenCopy(t *testing.T) {
	mod := newTestModule()
	want := put(mod, 0x1300, 0x40, 0x53, 0x48, 0x83, 0xEC, 0x20)

	s, err := NewSearchSpace(mod, testBase, 0, WithIsolation())
	require.NoError(t, err)
	require.True(t, s.IsIsolated())

	// Another component hooks the function after the copy was taken
	put(mod, 0x1300, 0xE9, 0x00, 0x10, 0x00, 0x00)

	got, err := s.ScanText("40 53 48 83 EC 20")
	require.NoError(t, err)
	assert.Equal(t, want, got, "address must be translated back to the live image")

	frozen, err := s.ReadMemory(got, 2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x53}, frozen)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.ScanText("40 53 48 83 EC 20")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.ReadMemory(got, 2)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLiveScanSeesPatches(t *testing.T) {
	mod := newTestModule()
	put(mod, 0x1300, 0x40, 0x53, 0x48, 0x83, 0xEC, 0x20)

	s, err := NewSearchSpace(mod, testBase, 0)
	require.NoError(t, err)
	defer s.Close()

	put(mod, 0x1300, 0xE9, 0x00, 0x10, 0x00, 0x00)

	_, err = s.ScanText("40 53 48 83 EC 20")
	assert.ErrorIs(t, err, ErrPatternNotFound)
}

func TestScanCachePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "scan.json")

	mod := newTestModule()
	want := put(mod, 0x1500, 0x48, 0x83, 0xEC, 0x28, 0xE8)

	s, err := NewSearchSpace(mod, testBase, 0, WithCache(path))
	require.NoError(t, err)
	got, err := s.ScanText("48 83 EC 28 E8")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, s.Close())
	require.FileExists(t, path)

	// Same build: served from the cache even though the bytes moved away
	put(mod, 0x1500, 0xCC, 0xCC, 0xCC, 0xCC, 0xCC)
	s, err = NewSearchSpace(mod, testBase, 0, WithCache(path))
	require.NoError(t, err)
	got, err = s.ScanText("48 83 EC 28 E8")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, s.Close())

	// Another build: the cache is discarded
	other := process_blob.NewProcessBlob(testBase, buildImage(true, testStamp+1, defaultSections...))
	s, err = NewSearchSpace(other, testBase, 0, WithCache(path))
	require.NoError(t, err)
	_, err = s.ScanText("48 83 EC 28 E8")
	assert.ErrorIs(t, err, ErrPatternNotFound)
	require.NoError(t, s.Close())
}
