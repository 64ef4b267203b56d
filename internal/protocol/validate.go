package protocol

import (
	"regexp"
	"strings"
)

const (
	// MaxMessageLength bounds relayed chat text.
	MaxMessageLength = 5000
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	hashPattern     = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// SanitizeUsername trims surrounding whitespace before validation.
func SanitizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// ValidUsername reports whether a username is 3-20 alphanumeric or
// underscore characters.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidMessage reports whether chat text is non-empty and within the
// length limit.
func ValidMessage(text string) bool {
	return text != "" && len(text) <= MaxMessageLength
}

// ValidHash reports whether a keyed-bind secret hash is exactly 64 hex
// characters (a SHA-256 digest in hex).
func ValidHash(hash string) bool {
	return hashPattern.MatchString(hash)
}
