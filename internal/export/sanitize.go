package export

import (
	"strings"
	"unicode"
)

// SanitizeName strips control characters and replaces anything an editing
// tool may choke on with '_'. maxLen counts runes; 0 means unlimited.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')', '\'', '!', '?':
		return true
	default:
		return false
	}
}

// Filename turns a video title into a safe attachment name with ext.
func Filename(title, ext string) string {
	name := strings.ReplaceAll(SanitizeName(title, 80), " ", "_")
	if name == "" {
		name = "highlights"
	}
	return name + ext
}
