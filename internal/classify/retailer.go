package classify

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type retailer struct {
	keyword string // lowercase match form
	display string // title-cased
}

func buildRetailers(names []string) []retailer {
	caser := cases.Title(language.English)
	out := make([]retailer, 0, len(names))
	for _, n := range names {
		out = append(out, retailer{keyword: n, display: caser.String(n)})
	}
	return out
}

// Retailers returns every known retailer named in text, title-cased, in
// table order and without repeats. A name only counts when it is not part
// of a longer word, so "ross" does not fire on "across". Plurals such as
// "Targets" still count.
func (c *Classifier) Retailers(text string) []string {
	lower := strings.ToLower(text)
	if lower == "" {
		return []string{}
	}

	found := []string{}
	seen := make(map[string]bool)
	for _, r := range c.retailers {
		if seen[r.display] || !containsWord(lower, r.keyword) {
			continue
		}
		seen[r.display] = true
		found = append(found, r.display)
	}
	return found
}

// IsRetailRelated is true when any retailer matched or the text mentions
// "retail" outright.
func (c *Classifier) IsRetailRelated(text string, retailers []string) bool {
	return len(retailers) > 0 || strings.Contains(strings.ToLower(text), "retail")
}

// containsWord reports whether needle occurs in s with no letter or digit
// directly on either side. A plural "s" right after needle is allowed.
func containsWord(s, needle string) bool {
	for start := 0; start < len(s); {
		idx := strings.Index(s[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)

		if end < len(s) && s[end] == 's' && !strings.HasSuffix(needle, "s") {
			end++
		}

		before, _ := utf8.DecodeLastRuneInString(s[:idx])
		after, _ := utf8.DecodeRuneInString(s[end:])
		if (idx == 0 || !isWordRune(before)) && (end == len(s) || !isWordRune(after)) {
			return true
		}
		start = idx + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
