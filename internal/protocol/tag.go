package protocol

import (
	"errors"
	"fmt"
	"time"
)

// TagSize is the length in bytes of an encoded tag.
const TagSize = 8

// MaxSequenceID is the largest sequence id that fits in the two-digit tag field.
const MaxSequenceID = 99

// ErrMalformedTag is returned when a tag is shorter than TagSize or contains non-digit bytes.
var ErrMalformedTag = errors.New("malformed tag")

// Tag is the decoded form of the HHMMSSID header prepended to every relayed packet.
type Tag struct {
	Hour       int
	Minute     int
	Second     int
	SequenceID int
}

// EncodingError describes a tag field that does not fit its two-digit range.
type EncodingError struct {
	Field string
	Value int
	Max   int
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("tag: field out of range: field=%s value=%d range=[0, %d]", e.Field, e.Value, e.Max)
}

// EncodeTag validates the tag fields and returns the corresponding Tag.
func EncodeTag(hour, minute, second, sequenceID int) (Tag, error) {
	fields := []struct {
		name  string
		value int
		max   int
	}{
		{"hour", hour, 23},
		{"minute", minute, 59},
		{"second", second, 59},
		{"sequence_id", sequenceID, MaxSequenceID},
	}

	for _, field := range fields {
		if field.value < 0 || field.value > field.max {
			return Tag{}, &EncodingError{Field: field.name, Value: field.value, Max: field.max}
		}
	}

	return Tag{Hour: hour, Minute: minute, Second: second, SequenceID: sequenceID}, nil
}

// TagFromTime builds a tag from a capture timestamp. Sequence ids beyond the two-digit field wrap
// around modulo 100.
func TagFromTime(t time.Time, sequenceID int) Tag {
	const modulus = MaxSequenceID + 1

	return Tag{
		Hour:       t.Hour(),
		Minute:     t.Minute(),
		Second:     t.Second(),
		SequenceID: (sequenceID%modulus + modulus) % modulus,
	}
}

// Bytes returns the 8 ASCII digits of the tag.
func (t Tag) Bytes() []byte {
	buf := make([]byte, 0, TagSize)
	for _, value := range []int{t.Hour, t.Minute, t.Second, t.SequenceID} {
		buf = append(buf, byte('0'+value/10%10), byte('0'+value%10))
	}

	return buf
}

// String returns the tag in its wire representation.
func (t Tag) String() string {
	return string(t.Bytes())
}

// DecodeTag parses the first TagSize bytes of b. Bytes past the tag are ignored.
func DecodeTag(b []byte) (Tag, error) {
	if len(b) < TagSize {
		return Tag{}, fmt.Errorf("tag: %w: expected %d bytes, got %d", ErrMalformedTag, TagSize, len(b))
	}

	var fields [4]int
	for i := range fields {
		hi, lo := b[2*i], b[2*i+1]
		if !isDigit(hi) || !isDigit(lo) {
			return Tag{}, fmt.Errorf("tag: %w: non-digit content: tag=%q", ErrMalformedTag, b[:TagSize])
		}

		fields[i] = int(hi-'0')*10 + int(lo-'0')
	}

	return Tag{
		Hour:       fields[0],
		Minute:     fields[1],
		Second:     fields[2],
		SequenceID: fields[3],
	}, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
