package textutil

import (
	"regexp"
	"strings"
)

var (
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	invalidPathRegex  = regexp.MustCompile(`[<>:"/\\|?*]`)
	trailingDateRegex = regexp.MustCompile(`\s+\d{2}/\d{2}/\d{4}$`)
)

// SanitizeFilename makes a string safe to use as a single path component:
// invalid path characters become underscores, runs of whitespace collapse
// to one space, and the result is trimmed and capped at maxLen runes.
func SanitizeFilename(name string, maxLen int) string {
	name = invalidPathRegex.ReplaceAllString(name, "_")
	name = whitespaceRegex.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	if maxLen > 0 {
		runes := []rune(name)
		if len(runes) > maxLen {
			name = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return name
}

// StripTrailingDate removes a trailing "MM/DD/YYYY" token, the format the
// portal appends to document titles.
func StripTrailingDate(s string) string {
	return strings.TrimSpace(trailingDateRegex.ReplaceAllString(s, ""))
}

func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}
