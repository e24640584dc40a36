package signature

// NotFound is the IndexOf result when the buffer holds no match.
const NotFound = -1

// shiftTable is the Horspool bad character table for a masked needle.
//
// A wildcard matches every byte, so no window may skip past the last wildcard
// position: the default shift is the distance from that wildcard to the end
// of the needle. Bytes between the last wildcard and the end shift by their
// distance to the end as usual. A trailing wildcard degenerates to shift 1,
// and a needle without wildcards gets the plain Horspool default of its length.
func shiftTable(sig Signature) [256]int {
	last := len(sig.Needle) - 1

	idx := last
	for idx >= 0 && !sig.Mask[idx] {
		idx--
	}
	diff := last - idx
	if diff == 0 {
		diff = 1
	}

	var table [256]int
	for i := range table {
		table[i] = diff
	}
	for i := max(last-diff, 0); i < last; i++ {
		table[sig.Needle[i]] = last - i
	}
	return table
}

// IndexOf returns the offset of the first match of sig in buf, or NotFound.
func IndexOf(buf []byte, sig Signature) int {
	return indexFrom(buf, sig, 0, shiftTable(sig))
}

// IndexAll returns the offset of every match of sig in buf in ascending order.
// Matches may overlap.
func IndexAll(buf []byte, sig Signature) []int {
	var results []int
	table := shiftTable(sig)
	for start := 0; ; {
		at := indexFrom(buf, sig, start, table)
		if at == NotFound {
			return results
		}
		results = append(results, at)
		start = at + 1
	}
}

func indexFrom(buf []byte, sig Signature, offset int, table [256]int) int {
	n := len(sig.Needle)
	if n == 0 || n > len(buf) {
		return NotFound
	}

	last := n - 1
	maxOffset := len(buf) - n
	for offset <= maxOffset {
		pos := last
		for sig.Mask[pos] || sig.Needle[pos] == buf[offset+pos] {
			if pos == 0 {
				return offset
			}
			pos--
		}
		offset += table[buf[offset+last]]
	}
	return NotFound
}
