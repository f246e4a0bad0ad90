package middleware

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Input validation and sanitization utilities

// MaxFieldLen bounds every free-text submission field
const MaxFieldLen = 200

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// ValidateField checks a sanitized submission field
func ValidateField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !utf8.ValidString(value) {
		return fmt.Errorf("%s must be valid UTF-8", name)
	}
	if utf8.RuneCountInString(value) > MaxFieldLen {
		return fmt.Errorf("%s exceeds %d characters", name, MaxFieldLen)
	}
	return nil
}

// ValidateCaseID accepts the canonical lowercase UUID form case ids are issued in.
func ValidateCaseID(id string) error {
	if id == "" {
		return fmt.Errorf("case id cannot be empty")
	}
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return fmt.Errorf("invalid case id format")
	}
	return nil
}
