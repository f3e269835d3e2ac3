package terminal

import (
	"strings"
	"testing"
)

type oscCapture struct {
	codes    []int
	payloads []string
}

func (c *oscCapture) emit(code int, payload string) {
	c.codes = append(c.codes, code)
	c.payloads = append(c.payloads, payload)
}

func TestScannerExtractsTitleWithBEL(t *testing.T) {
	var got oscCapture
	sc := &oscScanner{}
	sc.scan([]byte("before\x1b]2;alice@host: /tmp\x07after"), got.emit)

	if len(got.codes) != 1 || got.codes[0] != 2 {
		t.Fatalf("codes = %v, want [2]", got.codes)
	}
	if got.payloads[0] != "alice@host: /tmp" {
		t.Fatalf("payload = %q, want title text", got.payloads[0])
	}
}

func TestScannerExtractsTitleWithST(t *testing.T) {
	var got oscCapture
	sc := &oscScanner{}
	sc.scan([]byte("\x1b]0;icon title\x1b\\"), got.emit)

	if len(got.codes) != 1 || got.codes[0] != 0 {
		t.Fatalf("codes = %v, want [0]", got.codes)
	}
	if got.payloads[0] != "icon title" {
		t.Fatalf("payload = %q, want %q", got.payloads[0], "icon title")
	}
}

func TestScannerHandlesSequencesSplitAcrossReads(t *testing.T) {
	var got oscCapture
	sc := &oscScanner{}
	for _, b := range []byte("\x1b]7;file://host/home/alice\x07") {
		sc.scan([]byte{b}, got.emit)
	}

	if len(got.codes) != 1 || got.codes[0] != 7 {
		t.Fatalf("codes = %v, want [7]", got.codes)
	}
	if got.payloads[0] != "file://host/home/alice" {
		t.Fatalf("payload = %q", got.payloads[0])
	}
}

func TestScannerIgnoresOtherEscapes(t *testing.T) {
	var got oscCapture
	sc := &oscScanner{}
	sc.scan([]byte("\x1b[31mred\x1b[0m \x1b]133;A\x07"), got.emit)

	if len(got.codes) != 0 {
		t.Fatalf("codes = %v, want none for CSI and unknown OSC", got.codes)
	}
}

func TestScannerDiscardsOversizedPayload(t *testing.T) {
	var got oscCapture
	sc := &oscScanner{}
	huge := "\x1b]2;" + strings.Repeat("x", maxOSCPayload+10) + "\x07"
	sc.scan([]byte(huge), got.emit)

	if len(got.codes) != 0 {
		t.Fatalf("oversized payload must be dropped, got codes %v", got.codes)
	}

	// The scanner recovers and parses the next sequence.
	sc.scan([]byte("\x1b]2;ok\x07"), got.emit)
	if len(got.payloads) != 1 || got.payloads[0] != "ok" {
		t.Fatalf("payloads = %v, want [ok]", got.payloads)
	}
}

func TestScannerDropsMalformedTerminator(t *testing.T) {
	var got oscCapture
	sc := &oscScanner{}
	// ESC followed by something other than backslash aborts the sequence.
	sc.scan([]byte("\x1b]2;partial\x1bZ\x1b]2;good\x07"), got.emit)

	if len(got.payloads) != 1 || got.payloads[0] != "good" {
		t.Fatalf("payloads = %v, want only the well-formed sequence", got.payloads)
	}
}

func TestSplitOSC(t *testing.T) {
	tests := []struct {
		raw     string
		code    int
		payload string
		ok      bool
	}{
		{"2;my title", 2, "my title", true},
		{"0;a;b", 0, "a;b", true},
		{"7;file:///x", 7, "file:///x", true},
		{"no-semicolon", 0, "", false},
		{";empty code", 0, "", false},
		{"2x;bad digits", 0, "", false},
	}
	for _, tt := range tests {
		code, payload, ok := splitOSC(tt.raw)
		if code != tt.code || payload != tt.payload || ok != tt.ok {
			t.Errorf("splitOSC(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tt.raw, code, payload, ok, tt.code, tt.payload, tt.ok)
		}
	}
}

func TestParseOSC7(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{"file://host/home/alice/proj", "/home/alice/proj"},
		{"file:///tmp/x", "/tmp/x"},
		{"file://host/dir%20with%20space", "/dir with space"},
		{"http://host/nope", ""},
		{"not a url at all://", ""},
		{"file://hostonly", ""},
	}
	for _, tt := range tests {
		if got := parseOSC7(tt.payload); got != tt.want {
			t.Errorf("parseOSC7(%q) = %q, want %q", tt.payload, got, tt.want)
		}
	}
}
