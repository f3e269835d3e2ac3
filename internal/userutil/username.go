// Package userutil normalizes username-like values for use in filesystem
// and kernel object names (socket paths, pid files, pipe and mutex names).
package userutil

import (
	"regexp"
	"strings"
)

var unsafeUsernameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeUsername reduces a username to [a-zA-Z0-9._-]. Runs of other
// characters (domain separators, spaces, '@') collapse to a single
// underscore. Empty or all-whitespace input becomes "unknown" so callers
// always get a usable name component.
func SanitizeUsername(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return unsafeUsernameChars.ReplaceAllString(value, "_")
}
