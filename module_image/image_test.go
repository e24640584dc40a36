package module_image

import (
	"encoding/binary"

	"gosig/process"
	"gosig/process_blob"
)

const (
	testBase      = process.ProcessMemoryAddress(0x140000000)
	testImageSize = 0x4000
	testStamp     = 0x5F3A1B2C
)

type testSection struct {
	name string
	rva  uint32
	size uint32
	fill byte
}

var defaultSections = []testSection{
	{name: ".text", rva: 0x1000, size: 0x1000, fill: 0xCC},
	{name: ".rdata", rva: 0x2000, size: 0x800},
	{name: ".data", rva: 0x3000, size: 0x800},
}

// buildImage lays out a minimal PE image whose file and memory layouts
// coincide, so the same bytes serve as a mapped module and as a file on disk.
func buildImage(is64 bool, stamp uint32, sections ...testSection) []byte {
	img := make([]byte, testImageSize)
	le := binary.LittleEndian

	img[0], img[1] = 'M', 'Z'
	le.PutUint32(img[0x3C:], 0x80)

	nt := 0x80
	copy(img[nt:], "PE\x00\x00")
	if is64 {
		le.PutUint16(img[nt+0x04:], 0x8664)
	} else {
		le.PutUint16(img[nt+0x04:], 0x14C)
	}
	le.PutUint16(img[nt+0x06:], uint16(len(sections)))
	le.PutUint32(img[nt+0x08:], stamp)

	opt := nt + 0x18
	optSize := 0xE0
	if is64 {
		optSize = 0xF0
		le.PutUint16(img[opt:], 0x20B)
		le.PutUint64(img[opt+0x18:], uint64(testBase))
		le.PutUint32(img[opt+0x6C:], 16)
	} else {
		le.PutUint16(img[opt:], 0x10B)
		le.PutUint32(img[opt+0x1C:], 0x400000)
		le.PutUint32(img[opt+0x5C:], 16)
	}
	le.PutUint16(img[nt+0x14:], uint16(optSize))
	le.PutUint16(img[nt+0x16:], 0x22)
	le.PutUint32(img[opt+0x20:], 0x1000) // SectionAlignment
	le.PutUint32(img[opt+0x24:], 0x1000) // FileAlignment
	le.PutUint32(img[opt+0x38:], testImageSize)
	le.PutUint32(img[opt+0x3C:], 0x400) // SizeOfHeaders

	table := opt + optSize
	for i, sec := range sections {
		entry := img[table+i*sectionHeaderSize:]
		copy(entry[:8], sec.name)
		le.PutUint32(entry[8:], sec.size)
		le.PutUint32(entry[12:], sec.rva)
		le.PutUint32(entry[16:], sec.size)
		le.PutUint32(entry[20:], sec.rva)

		for j := uint32(0); j < sec.size; j++ {
			img[sec.rva+j] = sec.fill
		}
	}

	return img
}

func newTestModule(sections ...testSection) *process_blob.ProcessBlob {
	if len(sections) == 0 {
		sections = defaultSections
	}
	return process_blob.NewProcessBlob(testBase, buildImage(true, testStamp, sections...))
}

// put writes b into the module at rva.
func put(mod *process_blob.ProcessBlob, rva uint32, b ...byte) process.ProcessMemoryAddress {
	addr := testBase + process.ProcessMemoryAddress(rva)
	if err := mod.WriteMemory(addr, b); err != nil {
		panic(err)
	}
	return addr
}

func rel32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}
