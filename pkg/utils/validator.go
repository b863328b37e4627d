package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxIdentifierLen = 128
	maxNotesLen      = 2000
)

var (
	identifierRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@\-]*$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateIdentifier checks a subject or signer id
func ValidateIdentifier(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%s must not be empty", kind)
	}
	if len(id) > maxIdentifierLen {
		return fmt.Errorf("%s exceeds %d characters", kind, maxIdentifierLen)
	}
	if !identifierRegex.MatchString(id) {
		return fmt.Errorf("invalid %s format: %q", kind, id)
	}
	return nil
}

// SanitizeString removes control characters (newlines and tabs are kept)
func SanitizeString(s string) string {
	return controlRegex.ReplaceAllString(s, "")
}

// SanitizeNotes strips control characters and truncates free text to a sane length
func SanitizeNotes(notes string) string {
	notes = strings.TrimSpace(SanitizeString(notes))
	if utf8.RuneCountInString(notes) <= maxNotesLen {
		return notes
	}
	runes := []rune(notes)
	return string(runes[:maxNotesLen])
}
