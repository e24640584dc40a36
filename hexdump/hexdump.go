// Package hexdump renders memory around signature matches for terminals.
package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"github.com/Moonlight-Companies/gologger/coloransi"

	"gosig/process/memory_map"
	"gosig/signature"
)

// Highlight marks a signature match inside the dumped data.
type Highlight struct {
	Offset int    // index into the dumped data where the match starts
	Mask   []bool // wildcard positions of the signature, true = wildcard
}

func (h *Highlight) at(i int) (inside bool, wildcard bool) {
	if h == nil || i < h.Offset || i >= h.Offset+len(h.Mask) {
		return false, false
	}
	return true, h.Mask[i-h.Offset]
}

// Options defines options for customizing the hexdump output
type Options struct {
	BytesPerLine int
	ShowASCII    bool

	// StartOffset is the address of the first byte
	StartOffset uint64
	OffsetWidth int

	OffsetColor       coloransi.ColorCode
	HexColor          coloransi.ColorCode
	ASCIIColor        coloransi.ColorCode
	NonPrintableColor coloransi.ColorCode
	ZeroColor         coloransi.ColorCode

	Highlight           *Highlight
	HighlightColor      coloransi.ColorCode
	HighlightBackground coloransi.ColorCode
	WildcardColor       coloransi.ColorCode

	// MaxLines is the maximum number of lines to show (0 for no limit)
	MaxLines int

	// ShowPointers previews qword values that point into MemoryMap
	ShowPointers bool
	MemoryMap    []memory_map.MemoryMapItem
}

// DefaultOptions returns the default hexdump options
func DefaultOptions() Options {
	return Options{
		BytesPerLine:        16,
		ShowASCII:           true,
		OffsetWidth:         16,
		OffsetColor:         coloransi.Cyan,
		HexColor:            coloransi.Green,
		ASCIIColor:          coloransi.White,
		NonPrintableColor:   coloransi.Red,
		ZeroColor:           coloransi.BrightBlack,
		HighlightColor:      coloransi.Yellow,
		HighlightBackground: coloransi.Black,
		WildcardColor:       coloransi.ColorOrange,
	}
}

// Dump creates a hex dump of the given data with specified options
func Dump(data []byte, options Options) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, options)
	return buffer.String()
}

// DumpToWriter writes a hex dump of the given data to the specified writer
func DumpToWriter(writer io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 8
	}

	for line, offset := 0, 0; offset < len(data); line, offset = line+1, offset+options.BytesPerLine {
		if options.MaxLines > 0 && line >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			return
		}

		end := min(offset+options.BytesPerLine, len(data))
		formatLine(writer, data, offset, end, options)
	}
}

// DumpMatch dumps data read from start with the signature match at matchOffset
// highlighted; wildcard bytes of the match get their own colour.
func DumpMatch(data []byte, start uint64, matchOffset int, sig signature.Signature, mm []memory_map.MemoryMapItem) string {
	options := DefaultOptions()
	options.StartOffset = start
	options.Highlight = &Highlight{Offset: matchOffset, Mask: sig.Mask}
	if mm != nil {
		options.ShowPointers = true
		options.MemoryMap = mm
	}
	return Dump(data, options)
}

func formatLine(writer io.Writer, data []byte, offset, end int, options Options) {
	address := fmt.Sprintf("%0"+strconv.Itoa(options.OffsetWidth)+"x", options.StartOffset+uint64(offset))
	fmt.Fprint(writer, coloransi.Foreground(options.OffsetColor, address), "  ")

	half := options.BytesPerLine / 2
	var hex []string
	for i := offset; i < offset+options.BytesPerLine; i++ {
		if i-offset == half && options.BytesPerLine >= 8 {
			hex = append(hex, "|")
		}
		if i >= end {
			hex = append(hex, "  ")
			continue
		}
		hex = append(hex, colorByte(data[i], fmt.Sprintf("%02x", data[i]), i, options))
	}
	fmt.Fprint(writer, strings.Join(hex, " "))

	if options.ShowASCII {
		fmt.Fprint(writer, " | ")
		for i := offset; i < end; i++ {
			c := rune(data[i])
			text := "."
			if data[i] != 0 && unicode.IsPrint(c) && c < unicode.MaxASCII {
				text = string(c)
			}
			fmt.Fprint(writer, colorASCII(data[i], text, i, options))
		}
	}

	if options.ShowPointers && end-offset >= 8 {
		fmt.Fprint(writer, " | ")
		for p := offset; p+8 <= end; p += 8 {
			ptr := binary.LittleEndian.Uint64(data[p : p+8])
			if memory_map.IsValidAddress2(ptr, options.MemoryMap) != nil {
				fmt.Fprint(writer, coloransi.Foreground(coloransi.Yellow, fmt.Sprintf("0x%x", ptr)), " ")
			}
		}
	}

	fmt.Fprintln(writer)
}

func colorByte(b byte, text string, i int, options Options) string {
	if inside, wildcard := options.Highlight.at(i); inside {
		if wildcard {
			return coloransi.Foreground(options.WildcardColor, text)
		}
		return coloransi.Color(options.HighlightColor, options.HighlightBackground, text)
	}
	if b == 0 {
		return coloransi.Foreground(options.ZeroColor, text)
	}
	return coloransi.Foreground(options.HexColor, text)
}

func colorASCII(b byte, text string, i int, options Options) string {
	if inside, _ := options.Highlight.at(i); inside {
		return coloransi.Color(options.HighlightColor, options.HighlightBackground, text)
	}
	switch {
	case b == 0:
		return coloransi.Foreground(options.ZeroColor, text)
	case text == ".":
		return coloransi.Foreground(options.NonPrintableColor, text)
	}
	return coloransi.Foreground(options.ASCIIColor, text)
}
