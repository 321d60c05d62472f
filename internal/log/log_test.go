package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		level Level
		ok    bool
	}{
		{"debug", Debug, true},
		{"INFO", Info, true},
		{" Warn ", Warn, true},
		{"error", Error, true},
		{"verbose", Error, false},
		{"", Error, false},
	}

	for _, tc := range cases {
		level, ok := ParseLevel(tc.input)
		if level != tc.level || ok != tc.ok {
			t.Errorf("ParseLevel(%q) = (%v, %v); want (%v, %v)", tc.input, level, ok, tc.level, tc.ok)
		}
	}
}

func TestWriterLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(Warn, &buf)

	logger.Debug("hidden: n=%d", 1)
	logger.Info("hidden: n=%d", 2)
	logger.Warn("shown: n=%d", 3)
	logger.Error("shown: n=%d", 4)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("logger emitted messages below its level: %q", out)
	}
	if !strings.Contains(out, "WARN\tshown: n=3") || !strings.Contains(out, "ERROR\tshown: n=4") {
		t.Fatalf("logger is missing expected messages: %q", out)
	}
	if lines := strings.Count(out, "\n"); lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestLevelString(t *testing.T) {
	if Debug.String() != "DEBUG" || Error.String() != "ERROR" {
		t.Fatalf("unexpected level names: %s %s", Debug, Error)
	}
	if Level(9).String() != "Level(9)" {
		t.Fatalf("unexpected out-of-range name: %s", Level(9))
	}
}
