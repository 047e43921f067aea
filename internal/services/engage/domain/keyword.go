package domain

import "strings"

// Keyword is a reserved message prefix signaling urgency.
type Keyword string

const (
	// KeywordEmergency is the most severe critical keyword.
	KeywordEmergency Keyword = "EMERGENCY"
	// KeywordUrgent signals high urgency below emergency.
	KeywordUrgent Keyword = "URGENT"
	// KeywordCritical signals elevated urgency below urgent.
	KeywordCritical Keyword = "CRITICAL"
)

// criticalKeywords is ordered by severity: earlier entries are more severe,
// and extraction returns the first prefix match in this order.
var criticalKeywords = [...]Keyword{KeywordEmergency, KeywordUrgent, KeywordCritical}

// IsCritical reports whether the upper-cased text starts with a reserved
// critical keyword. The match is a literal prefix rule, deliberately
// auditable; there is no fuzzy or partial matching.
func IsCritical(text string) bool {
	_, ok := ExtractKeyword(text)
	return ok
}

// ExtractKeyword returns the triggering keyword for critical text. The only
// normalization applied is upper-casing.
func ExtractKeyword(text string) (Keyword, bool) {
	upper := strings.ToUpper(text)
	for _, keyword := range criticalKeywords {
		if strings.HasPrefix(upper, string(keyword)) {
			return keyword, true
		}
	}
	return "", false
}

// Severity returns the keyword's position in the severity order, where 0 is
// most severe. Unknown keywords report the lowest severity.
func (k Keyword) Severity() int {
	for i, keyword := range criticalKeywords {
		if k == keyword {
			return i
		}
	}
	return len(criticalKeywords)
}
