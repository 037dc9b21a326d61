package migrate

import "strings"

// isNumeric returns true if s is non-empty and contains only digits.
func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// addIdentifierPrefix adds the appropriate tel:/mailto: prefix to a raw
// handle so user IDs are uniform across phone numbers, short codes and
// email addresses.
func addIdentifierPrefix(localID string) string {
	if strings.HasPrefix(localID, "tel:") || strings.HasPrefix(localID, "mailto:") {
		return localID // already has prefix
	}
	if strings.Contains(localID, "@") {
		return "mailto:" + localID
	}
	// Short codes and numeric-only identifiers (e.g., "242733") are
	// SMS-based and get the tel: prefix like full numbers.
	if strings.HasPrefix(localID, "+") || isNumeric(localID) {
		return "tel:" + localID
	}
	return localID
}
