package utils

import (
	"unicode"
)

func IsBlank(str string) bool {
	if str == "" {
		return true
	}

	for _, c := range str {
		if !unicode.IsSpace(c) {
			return false
		}
	}
	return true
}

// IsValidIdentifier reports whether str is a non-blank identifier of at most
// maxLength bytes without surrounding whitespace.
func IsValidIdentifier(str string, maxLength int) bool {
	if IsBlank(str) || len(str) > maxLength {
		return false
	}
	return !unicode.IsSpace(rune(str[0])) && !unicode.IsSpace(rune(str[len(str)-1]))
}
