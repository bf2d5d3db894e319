package drivesync

import (
	"fmt"
	"regexp"
	"strings"
)

var bareIdentifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Tried in order; the first capture wins.
var referencePatterns = []*regexp.Regexp{
	regexp.MustCompile(`/folders/([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`),
	regexp.MustCompile(`#folders/([A-Za-z0-9_-]+)`),
}

// ParseReference extracts a folder identifier from a bare ID or a Drive URL.
func ParseReference(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrEmptyReference
	}
	if bareIdentifierPattern.MatchString(trimmed) {
		return trimmed, nil
	}
	for _, pattern := range referencePatterns {
		if match := pattern.FindStringSubmatch(trimmed); len(match) == 2 {
			return match[1], nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnrecognizedReference, trimmed)
}
