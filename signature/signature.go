// Package signature compiles textual byte signatures and searches buffers for them.
//
// A signature is a run of hex byte pairs, optionally separated by whitespace,
// where "??" or "**" matches any byte:
//
//	E8 ?? ?? ?? ?? 48 8B D8 48 85 C0
package signature

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedSignature is returned for empty input, an odd digit count or a non hex pair.
var ErrMalformedSignature = errors.New("malformed signature")

// Signature is a compiled pattern. Mask[i] is true where Needle[i] is a wildcard.
type Signature struct {
	Needle []byte
	Mask   []bool
}

// Compile turns signature text into a needle and mask of equal length.
func Compile(text string) (Signature, error) {
	compact := strings.Join(strings.Fields(text), "")
	if len(compact) == 0 {
		return Signature{}, fmt.Errorf("%w: empty", ErrMalformedSignature)
	}
	if len(compact)%2 != 0 {
		return Signature{}, fmt.Errorf("%w: %d hex digits is not a whole number of bytes", ErrMalformedSignature, len(compact))
	}

	n := len(compact) / 2
	sig := Signature{
		Needle: make([]byte, n),
		Mask:   make([]bool, n),
	}

	for i := 0; i < n; i++ {
		pair := compact[i*2 : i*2+2]
		if pair == "??" || pair == "**" {
			sig.Mask[i] = true
			continue
		}

		v, err := strconv.ParseUint(pair, 16, 8)
		if err != nil {
			return Signature{}, fmt.Errorf("%w: invalid byte %q at %d", ErrMalformedSignature, pair, i)
		}
		sig.Needle[i] = byte(v)
	}

	return sig, nil
}

// MustCompile is Compile for signatures known at build time.
func MustCompile(text string) Signature {
	sig, err := Compile(text)
	if err != nil {
		panic(err)
	}
	return sig
}

func (s Signature) Len() int {
	return len(s.Needle)
}

// String renders the signature canonically, e.g. "AB ?? CD".
func (s Signature) String() string {
	var sb strings.Builder
	for i, b := range s.Needle {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if s.Mask[i] {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// Matches reports whether data starts with the signature.
func (s Signature) Matches(data []byte) bool {
	if len(data) < len(s.Needle) {
		return false
	}
	for i, b := range s.Needle {
		if !s.Mask[i] && data[i] != b {
			return false
		}
	}
	return true
}
