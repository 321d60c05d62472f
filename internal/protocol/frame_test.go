package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameBytes(t *testing.T) {
	tag, _ := EncodeTag(9, 15, 0, 3)
	frame := NewFrame(tag, []byte{0xde, 0xad})

	if got := frame.Bytes(); !bytes.Equal(got, []byte("09150003\xde\xad")) {
		t.Fatalf("unexpected wire bytes: %q", got)
	}
}

func TestSplitFrame(t *testing.T) {
	frame := SplitFrame([]byte("13000207payload"))
	if string(frame.Tag) != "13000207" || string(frame.Payload) != "payload" {
		t.Fatalf("unexpected split: tag=%q payload=%q", frame.Tag, frame.Payload)
	}

	short := SplitFrame([]byte("130"))
	if string(short.Tag) != "130" || len(short.Payload) != 0 {
		t.Fatalf("unexpected split of a short packet: tag=%q payload=%q", short.Tag, short.Payload)
	}

	if !bytes.Equal(SplitFrame([]byte("13000207payload")).Bytes(), []byte("13000207payload")) {
		t.Fatalf("split and rejoin should be lossless")
	}
}

func TestParseReply(t *testing.T) {
	cases := []struct {
		name    string
		input   []byte
		tag     string
		address string
		short   bool
	}{
		{"full reply", EncodeReply([]byte("09150003"), "10.0.0.4"), "09150003", "10.0.0.4", false},
		{"trailing whitespace", []byte("09150003 10.0.0.4\r\n"), "09150003", "10.0.0.4", false},
		{"tag only", []byte("09150003"), "09150003", "", true},
		{"truncated tag", []byte("0915"), "0915", "", true},
		{"blank address", []byte("09150003   "), "09150003", "", true},
		{"empty", nil, "", "", true},
	}

	for _, tc := range cases {
		reply, err := ParseReply(tc.input)
		if tc.short != errors.Is(err, ErrShortReply) {
			t.Errorf("%s: unexpected error: %v", tc.name, err)
		}

		if string(reply.Tag) != tc.tag || reply.Address != tc.address {
			t.Errorf("%s: got tag=%q address=%q, want tag=%q address=%q", tc.name, reply.Tag, reply.Address, tc.tag, tc.address)
		}
	}
}
