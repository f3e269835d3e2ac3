package session

import (
	"fmt"
	"regexp"
	"strings"
)

// userHostTitlePattern matches the OSC titles interactive shells typically
// report: "<user>@<host>: <path>".
var userHostTitlePattern = regexp.MustCompile(`^([^@\s]+)@([^:\s]+): (.+)$`)

// ParseTitle turns a raw terminal window title into a display title.
// "alice@host: /home/alice/proj" becomes "alice/proj (alice@host)";
// titles that do not match the user@host pattern are used verbatim.
func ParseTitle(raw string) string {
	m := userHostTitlePattern.FindStringSubmatch(raw)
	if m == nil {
		return raw
	}
	return fmt.Sprintf("%s (%s@%s)", ShortPath(m[3]), m[1], m[2])
}

// ShortPath reduces a path to its last one or two components for display:
// "/home/alice/proj" -> "alice/proj", "/srv" -> "srv", "/" stays "/".
func ShortPath(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		// "" and "/" have no components to shorten.
		return path
	}
	parts := make([]string, 0, 4)
	for _, part := range strings.Split(trimmed, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	switch len(parts) {
	case 0:
		return path
	case 1:
		return parts[0]
	default:
		return parts[len(parts)-2] + "/" + parts[len(parts)-1]
	}
}
