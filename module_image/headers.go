package module_image

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"gosig/process"
)

// Loader header layout. Offsets into the NT headers are relative to e_lfanew.
const (
	dosMagic = 0x5A4D     // "MZ"
	ntMagic  = 0x00004550 // "PE\0\0"

	offsetLfanew               = 0x3C
	offsetNumberOfSections     = 0x06
	offsetTimeDateStamp        = 0x08
	offsetSizeOfOptionalHeader = 0x14
	offsetOptionalHeader       = 0x18

	// Within the optional header; identical for PE32 and PE32+
	offsetOptionalMagic = 0x00
	offsetSizeOfImage   = 0x38

	optionalMagic32 = 0x10B
	optionalMagic64 = 0x20B

	sectionHeaderSize     = 40
	sectionNameSize       = 8
	offsetSectionSize     = 0x08
	offsetSectionVirtAddr = 0x0C

	// Upper bound on section count, a corrupt header must not drive huge reads
	maxSections = 96
)

var (
	sectionNameText  = []byte(".text")
	sectionNameData  = []byte(".data")
	sectionNameRData = []byte(".rdata")
)

// Section is a region of the image relative to its base. A section the
// header does not name stays {0,0}; scans over it come back not found.
type Section struct {
	Offset uint32
	Size   uint32
}

func (sec Section) IsEmpty() bool {
	return sec.Size == 0
}

// Contains reports whether a module relative offset lies inside the section.
func (sec Section) Contains(offset uint64) bool {
	return offset >= uint64(sec.Offset) && offset-uint64(sec.Offset) < uint64(sec.Size)
}

type sectionHeader struct {
	Name string
	Section
}

type imageHeader struct {
	TimeDateStamp uint32
	SizeOfImage   uint32
	Is64          bool
	Sections      []sectionHeader
}

// section returns the header entry whose 8 byte name field equals name.
func (h imageHeader) section(name []byte) (Section, bool) {
	for _, sh := range h.Sections {
		if sh.Name == string(name) {
			return sh.Section, true
		}
	}
	return Section{}, false
}

// readImageHeader walks the loader headers of the image mapped at base.
func readImageHeader(mem process.Memory, base process.ProcessMemoryAddress) (imageHeader, error) {
	var h imageHeader

	magic, err := process.ReadUINT16(mem, base)
	if err != nil {
		return h, fmt.Errorf("read dos header: %w", err)
	}
	if magic != dosMagic {
		return h, fmt.Errorf("%w: dos magic 0x%04X", ErrInvalidImage, magic)
	}

	lfanew, err := process.ReadUINT32(mem, base+offsetLfanew)
	if err != nil {
		return h, fmt.Errorf("read e_lfanew: %w", err)
	}
	nt := base + process.ProcessMemoryAddress(lfanew)

	signature, err := process.ReadUINT32(mem, nt)
	if err != nil {
		return h, fmt.Errorf("read nt signature: %w", err)
	}
	if signature != ntMagic {
		return h, fmt.Errorf("%w: nt signature 0x%08X", ErrInvalidImage, signature)
	}

	numSections, err := process.ReadUINT16(mem, nt+offsetNumberOfSections)
	if err != nil {
		return h, fmt.Errorf("read section count: %w", err)
	}
	if numSections > maxSections {
		return h, fmt.Errorf("%w: %d sections", ErrInvalidImage, numSections)
	}

	if h.TimeDateStamp, err = process.ReadUINT32(mem, nt+offsetTimeDateStamp); err != nil {
		return h, fmt.Errorf("read timestamp: %w", err)
	}

	optSize, err := process.ReadUINT16(mem, nt+offsetSizeOfOptionalHeader)
	if err != nil {
		return h, fmt.Errorf("read optional header size: %w", err)
	}

	opt := nt + offsetOptionalHeader
	optMagic, err := process.ReadUINT16(mem, opt+offsetOptionalMagic)
	if err != nil {
		return h, fmt.Errorf("read optional header magic: %w", err)
	}
	switch optMagic {
	case optionalMagic64:
		h.Is64 = true
	case optionalMagic32:
	default:
		return h, fmt.Errorf("%w: optional header magic 0x%04X", ErrInvalidImage, optMagic)
	}

	if h.SizeOfImage, err = process.ReadUINT32(mem, opt+offsetSizeOfImage); err != nil {
		return h, fmt.Errorf("read image size: %w", err)
	}

	// PE32 and PE32+ optional headers differ in size; the table follows whichever is present
	table := opt + process.ProcessMemoryAddress(optSize)
	raw, err := mem.ReadMemory(table, process.ProcessMemorySize(int(numSections)*sectionHeaderSize))
	if err != nil {
		return h, fmt.Errorf("read section table: %w", err)
	}

	h.Sections = make([]sectionHeader, 0, numSections)
	for i := 0; i < int(numSections); i++ {
		entry := raw[i*sectionHeaderSize : (i+1)*sectionHeaderSize]
		h.Sections = append(h.Sections, sectionHeader{
			Name: string(bytes.TrimRight(entry[:sectionNameSize], "\x00")),
			Section: Section{
				Size:   binary.LittleEndian.Uint32(entry[offsetSectionSize:]),
				Offset: binary.LittleEndian.Uint32(entry[offsetSectionVirtAddr:]),
			},
		})
	}

	return h, nil
}
