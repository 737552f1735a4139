package classify

import "strings"

// Normalize maps narrative text (a headline, an article summary) onto the
// taxonomy. Tiers are checked in order (retail, general, police codes) and
// rules in table order inside each tier; the first keyword hit wins. Text
// with no hit is Other.
func (c *Classifier) Normalize(text string) IncidentType {
	return match(c.tiers, text)
}

// NormalizeReport maps a police report, its offense label followed by its
// description, onto the taxonomy. Only the general and police code tiers
// apply, so words like "injured" or "stolen" in a description cannot
// override the agency's own offense label.
func (c *Classifier) NormalizeReport(text string) IncidentType {
	return match(c.report, text)
}

func match(tiers [][]rule, text string) IncidentType {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Other
	}
	for _, tier := range tiers {
		for _, r := range tier {
			if containsAny(lower, r.keywords) {
				return r.typ
			}
		}
	}
	return Other
}

// Severity scores an incident from 1 (least) to 5 (most severe).
//
// The base score comes from the type. Weapon or violence terms add one, and
// scale or organization terms (or the orc type) add another, each capped at
// 5. Petty-offense terms then subtract one, floored at 1.
func (c *Classifier) Severity(t IncidentType, text string) int {
	lower := strings.ToLower(text)

	sev, ok := c.base[t]
	if !ok {
		sev = defaultSeverity
	}
	if containsAny(lower, c.violence) {
		sev = min(5, sev+1)
	}
	if t == ORC || containsAny(lower, c.scale) {
		sev = min(5, sev+1)
	}
	if containsAny(lower, c.minor) {
		sev = max(1, sev-1)
	}
	return max(1, min(5, sev))
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
