package terminal

import (
	"net/url"
	"strings"
)

// OSC codes the scanner reports. 0 and 2 carry window titles, 7 carries the
// shell's working directory as a file:// URL.
const (
	oscSetIconAndTitle = 0
	oscSetTitle        = 2
	oscWorkingDir      = 7
)

// maxOSCPayload bounds a single control payload. Anything longer is a
// malformed or hostile sequence and gets discarded.
const maxOSCPayload = 4096

const (
	oscGround = iota
	oscEscape
	oscCollect
	oscCollectEscape
)

// oscScanner extracts OSC title and working-directory sequences from a raw
// terminal output stream. It is incremental: sequences may be split across
// any number of scan calls. The scanner only inspects the stream, it never
// modifies it.
type oscScanner struct {
	state   int
	payload []byte
}

// scan feeds output bytes through the scanner. emit is called once per
// complete OSC 0/2/7 sequence with the code and the text after "<code>;".
func (sc *oscScanner) scan(data []byte, emit func(code int, payload string)) {
	for _, b := range data {
		switch sc.state {
		case oscGround:
			if b == 0x1b {
				sc.state = oscEscape
			}
		case oscEscape:
			if b == ']' {
				sc.state = oscCollect
				sc.payload = sc.payload[:0]
			} else {
				sc.state = oscGround
			}
		case oscCollect:
			switch {
			case b == 0x07:
				sc.finish(emit)
			case b == 0x1b:
				sc.state = oscCollectEscape
			default:
				if len(sc.payload) >= maxOSCPayload {
					sc.state = oscGround
					sc.payload = sc.payload[:0]
					continue
				}
				sc.payload = append(sc.payload, b)
			}
		case oscCollectEscape:
			if b == '\\' {
				sc.finish(emit)
			} else {
				// Not an ST terminator; the sequence is malformed.
				sc.state = oscGround
				sc.payload = sc.payload[:0]
			}
		}
	}
}

func (sc *oscScanner) finish(emit func(code int, payload string)) {
	raw := string(sc.payload)
	sc.state = oscGround
	sc.payload = sc.payload[:0]

	code, rest, ok := splitOSC(raw)
	if !ok {
		return
	}
	switch code {
	case oscSetIconAndTitle, oscSetTitle, oscWorkingDir:
		emit(code, rest)
	}
}

// splitOSC splits "2;my title" into (2, "my title").
func splitOSC(raw string) (int, string, bool) {
	sep := strings.IndexByte(raw, ';')
	if sep <= 0 {
		return 0, "", false
	}
	code := 0
	for _, r := range raw[:sep] {
		if r < '0' || r > '9' {
			return 0, "", false
		}
		code = code*10 + int(r-'0')
	}
	return code, raw[sep+1:], true
}

// parseOSC7 extracts the directory path from an OSC 7 payload, a file://
// URL such as "file://hostname/home/alice/proj". Returns "" for payloads
// that do not carry a usable local path.
func parseOSC7(payload string) string {
	u, err := url.Parse(payload)
	if err != nil || u.Scheme != "file" || u.Path == "" {
		return ""
	}
	return u.Path
}
