package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxMessageSize bounds a single relay request or reply, in bytes.
const MaxMessageSize = 4096

// ErrShortReply is returned when a relay reply carries no address after the echoed tag.
var ErrShortReply = errors.New("short reply")

// Frame is one relay request: the tag bytes followed by the captured packet. The tag is kept as
// raw bytes so that a frame with a malformed tag can still be relayed unchanged.
type Frame struct {
	Tag     []byte
	Payload []byte
}

// Reply is a decoded relay response.
type Reply struct {
	Tag     []byte
	Address string
}

// NewFrame builds a frame from a well-formed tag and a payload.
func NewFrame(tag Tag, payload []byte) Frame {
	return Frame{Tag: tag.Bytes(), Payload: payload}
}

// SplitFrame splits a tagged packet into its tag and payload. Packets shorter than TagSize yield a
// frame whose tag is the whole packet and whose payload is empty.
func SplitFrame(packet []byte) Frame {
	n := TagSize
	if len(packet) < n {
		n = len(packet)
	}

	return Frame{Tag: packet[:n], Payload: packet[n:]}
}

// Bytes serializes the frame for the wire: tag immediately followed by payload, no length prefix.
func (f Frame) Bytes() []byte {
	buf := make([]byte, 0, len(f.Tag)+len(f.Payload))
	buf = append(buf, f.Tag...)

	return append(buf, f.Payload...)
}

// EncodeReply serializes a reply for the wire: the echoed tag immediately followed by the address.
func EncodeReply(tag []byte, address string) []byte {
	buf := make([]byte, 0, len(tag)+len(address))
	buf = append(buf, tag...)

	return append(buf, address...)
}

// ParseReply splits a reply into the echoed tag and the address. Surrounding whitespace is
// trimmed from the address. A reply with nothing after the tag returns ErrShortReply along with
// whatever was received.
func ParseReply(b []byte) (Reply, error) {
	if len(b) <= TagSize {
		return Reply{Tag: b}, fmt.Errorf("relay: %w: bytes=%d", ErrShortReply, len(b))
	}

	address := string(bytes.TrimSpace(b[TagSize:]))
	if address == "" {
		return Reply{Tag: b[:TagSize]}, fmt.Errorf("relay: %w: blank address", ErrShortReply)
	}

	return Reply{Tag: b[:TagSize], Address: address}, nil
}
