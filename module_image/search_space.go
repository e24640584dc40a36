// Package module_image locates the sections of a mapped PE image and scans
// them for byte signatures.
package module_image

import (
	"errors"
	"fmt"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"

	"gosig/process"
	"gosig/process_blob"
)

var (
	// ErrPatternNotFound is returned when a scan exhausts its region without a match.
	ErrPatternNotFound = errors.New("pattern not found")

	// ErrStaticAddressNotFound is returned when no displacement after the
	// located instruction lands in a data section before the end of the module.
	ErrStaticAddressNotFound = errors.New("static address not found")

	// ErrInvalidImage is returned when the loader headers are not a PE image.
	ErrInvalidImage = errors.New("invalid image")

	// ErrClosed is returned by every scan after Close.
	ErrClosed = errors.New("search space closed")
)

// viewer is implemented by memories that can expose their bytes without copying.
type viewer interface {
	View(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error)
}

// SearchSpace bounds the searchable regions of one mapped module.
type SearchSpace struct {
	Base process.ProcessMemoryAddress
	Size process.ProcessMemorySize

	Text  Section
	Data  Section
	RData Section

	TimeDateStamp uint32
	Is64          bool

	live     process.Memory
	snapshot *process_blob.ProcessBlob
	isolate  bool

	cachePath string
	cache     *scanCache

	log    *logger.Logger
	closed bool
}

// Option configures a SearchSpace
type Option func(*SearchSpace)

// WithIsolation scans a private copy of the module taken once at construction
// instead of the live image, so bytes patched by hooks installed later never
// disturb a match. Returned addresses are always live addresses.
func WithIsolation() Option {
	return func(s *SearchSpace) {
		s.isolate = true
	}
}

// WithCache persists text scan results to path, keyed by the image build.
func WithCache(path string) Option {
	return func(s *SearchSpace) {
		s.cachePath = path
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(s *SearchSpace) {
		s.log = l
	}
}

// NewSearchSpace parses the loader headers of the image mapped at base in mem.
// A size of zero takes SizeOfImage from the header.
func NewSearchSpace(mem process.Memory, base process.ProcessMemoryAddress, size process.ProcessMemorySize, options ...Option) (*SearchSpace, error) {
	s := &SearchSpace{
		Base: base,
		Size: size,
		live: mem,
	}

	for _, opt := range options {
		opt(s)
	}

	if s.log == nil {
		s.log = logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, fmt.Sprintf("module-0x%x", uint64(base))))
	}

	header, err := readImageHeader(mem, base)
	if err != nil {
		return nil, err
	}
	if s.Size == 0 {
		s.Size = process.ProcessMemorySize(header.SizeOfImage)
	}

	s.TimeDateStamp = header.TimeDateStamp
	s.Is64 = header.Is64

	var found bool
	if s.Text, found = header.section(sectionNameText); !found {
		s.log.Warn("no .text section, code scans will come back not found")
	}
	if s.Data, found = header.section(sectionNameData); !found {
		s.log.Warn("no .data section")
	}
	if s.RData, found = header.section(sectionNameRData); !found {
		s.log.Warn("no .rdata section")
	}

	if s.isolate {
		s.snapshot, err = process_blob.Snapshot(mem, base, s.Size)
		if err != nil {
			return nil, fmt.Errorf("isolate module: %w", err)
		}
		s.log.Debugln("scanning a private copy of", s.Size.ToString())
	}

	if s.cachePath != "" {
		s.cache = loadScanCache(s.cachePath, s.TimeDateStamp, uint32(s.Size), s.log)
	}

	s.log.Infoln("Module opened at", s.Base.ToString(), "text", fmt.Sprintf("+0x%x/0x%x", s.Text.Offset, s.Text.Size),
		"data", fmt.Sprintf("+0x%x/0x%x", s.Data.Offset, s.Data.Size),
		"rdata", fmt.Sprintf("+0x%x/0x%x", s.RData.Offset, s.RData.Size))

	return s, nil
}

// IsIsolated reports whether scans run against a private copy.
func (s *SearchSpace) IsIsolated() bool {
	return s.snapshot != nil
}

// SectionBase returns the live address a section starts at.
func (s *SearchSpace) SectionBase(sec Section) process.ProcessMemoryAddress {
	return s.Base + process.ProcessMemoryAddress(sec.Offset)
}

// Range returns the span of the module.
func (s *SearchSpace) Range() process.Range {
	return process.Range{Address: s.Base, Size: s.Size}
}

// IsInModule reports whether addr is inside the module.
func (s *SearchSpace) IsInModule(addr process.ProcessMemoryAddress) bool {
	return s.Range().Contains(addr)
}

// memory returns what scans and resolvers read: the private copy when
// isolated, the live image otherwise. Both are addressed with live addresses.
func (s *SearchSpace) memory() process.Memory {
	if s.snapshot != nil {
		return s.snapshot
	}
	return s.live
}

// ReadMemory reads from the scanned memory, so the bytes agree with what
// scans saw even after the live image has been patched.
func (s *SearchSpace) ReadMemory(addr process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	return s.memory().ReadMemory(addr, size)
}

// region returns the bytes of [start, start+size) from the scanned memory and
// the function translating an index into them back to a live address.
func (s *SearchSpace) region(start process.ProcessMemoryAddress, size process.ProcessMemorySize) ([]byte, func(int) process.ProcessMemoryAddress, error) {
	if s.snapshot != nil {
		offset, err := s.snapshot.Offset(start)
		if err != nil {
			return nil, nil, err
		}
		data, err := s.snapshot.View(start, size)
		if err != nil {
			return nil, nil, err
		}
		return data, func(i int) process.ProcessMemoryAddress {
			return s.snapshot.LiveAddress(offset + i)
		}, nil
	}

	var data []byte
	var err error
	if v, ok := s.live.(viewer); ok {
		data, err = v.View(start, size)
	} else {
		data, err = s.live.ReadMemory(start, size)
	}
	if err != nil {
		return nil, nil, err
	}
	return data, func(i int) process.ProcessMemoryAddress {
		return start + process.ProcessMemoryAddress(i)
	}, nil
}

// Close releases the private copy and flushes the scan cache. Calling it
// again is a no-op.
func (s *SearchSpace) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.cache != nil {
		if err = s.cache.save(); err != nil {
			s.log.Warn("failed to save scan cache: ", err)
		}
	}

	if s.snapshot != nil {
		s.snapshot.Release()
		s.snapshot = nil
	}

	s.log.Infoln("Module closed")
	return err
}
