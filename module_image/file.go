package module_image

import (
	"bytes"
	"fmt"
	"os"

	"github.com/Binject/debug/pe"

	"gosig/process"
	"gosig/process_blob"
)

// LoadFile maps a PE file from disk the way the loader would: headers at
// offset zero and every section at its virtual address, in a buffer of
// SizeOfImage bytes addressed from the preferred image base. The result backs
// a SearchSpace for working against a build without running it.
func LoadFile(path string) (*process_blob.ProcessBlob, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}

	f, err := pe.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	defer f.Close()

	var imageBase uint64
	var sizeOfImage, sizeOfHeaders uint32
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		imageBase, sizeOfImage, sizeOfHeaders = oh.ImageBase, oh.SizeOfImage, oh.SizeOfHeaders
	case *pe.OptionalHeader32:
		imageBase, sizeOfImage, sizeOfHeaders = uint64(oh.ImageBase), oh.SizeOfImage, oh.SizeOfHeaders
	default:
		return nil, fmt.Errorf("%w: no optional header", ErrInvalidImage)
	}

	image := make([]byte, sizeOfImage)
	copy(image, raw[:min(int(sizeOfHeaders), len(raw), len(image))])

	for _, section := range f.Sections {
		if section.Size == 0 {
			continue
		}

		data, err := section.Data()
		if err != nil {
			return nil, fmt.Errorf("failed to read section %s: %w", section.Name, err)
		}

		// Raw data is file aligned; the tail past VirtualSize is padding
		if section.VirtualSize != 0 && int(section.VirtualSize) < len(data) {
			data = data[:section.VirtualSize]
		}

		if uint64(section.VirtualAddress)+uint64(len(data)) > uint64(len(image)) {
			return nil, fmt.Errorf("%w: section %s overruns the image", ErrInvalidImage, section.Name)
		}
		copy(image[section.VirtualAddress:], data)
	}

	return process_blob.NewProcessBlob(process.ProcessMemoryAddress(imageBase), image), nil
}
