package protocol

import (
	"strings"
)

// Unknown is reported in place of a domain name when no candidate could be recovered.
const Unknown = "Unknown"

const maxLabelLength = 63

// ExtractDomain scans buf for a run of length-prefixed labels that looks like a domain name and
// returns the first one found, dotted. The DNS question offset inside a captured frame is not
// trusted, so every offset from minOffset onwards is probed independently. A candidate needs at
// least two labels. Unknown is returned when no offset yields a candidate.
func ExtractDomain(buf []byte, minOffset int) string {
	if minOffset < 0 {
		minOffset = 0
	}

	for p := minOffset; p < len(buf); p++ {
		if labels := walkLabels(buf, p); len(labels) >= 2 {
			return strings.Join(labels, ".")
		}
	}

	return Unknown
}

// walkLabels greedily reads labels starting at offset p. It stops at a zero length byte, an
// invalid length, a label running past the buffer, or a label with unprintable bytes, and returns
// whatever labels it accepted up to that point.
func walkLabels(buf []byte, p int) []string {
	var labels []string

	for p < len(buf) {
		length := int(buf[p])
		if length < 1 || length > maxLabelLength {
			break
		}

		start, end := p+1, p+1+length
		if end > len(buf) {
			break
		}

		label := buf[start:end]
		if !printable(label) {
			break
		}

		labels = append(labels, string(label))
		p = end
	}

	return labels
}

// printable reports whether every byte is a visible ASCII character other than the label
// separator.
func printable(label []byte) bool {
	for _, c := range label {
		if c <= 0x20 || c >= 0x7f || c == '.' {
			return false
		}
	}

	return true
}
