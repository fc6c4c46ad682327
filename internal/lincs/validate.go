package lincs

import "strings"

// ValidateGeneSymbol reports whether raw, after trimming surrounding
// whitespace, is a non-empty string of letters, digits, hyphens and
// underscores. Pure function, exposed so callers can pre-validate input
// before paying for a network round trip.
func ValidateGeneSymbol(raw string) bool {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false
	}
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
