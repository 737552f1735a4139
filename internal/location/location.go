// Package location infers a coarse location from free text. It is a lookup
// against small built-in gazetteers, not a geocoder: the first listed city
// found in the text wins, then the first US state.
package location

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Location is a partially populated place. Empty fields are unknown.
type Location struct {
	Country       string
	CountryCode   string
	StateProvince string
	City          string
}

// IsZero reports whether nothing was inferred.
func (l Location) IsZero() bool {
	return l == Location{}
}

const (
	unitedStates = "United States"
	canada       = "Canada"
)

type city struct {
	name        string // lowercase match form
	display     string
	state       string
	country     string
	countryCode string
}

type state struct {
	name    string
	display string
}

// cityTable is scanned in order; the first hit wins.
var cityTable = buildCities([]struct {
	name, state string
	canadian    bool
}{
	{"new york", "New York", false},
	{"los angeles", "California", false},
	{"chicago", "Illinois", false},
	{"houston", "Texas", false},
	{"phoenix", "Arizona", false},
	{"philadelphia", "Pennsylvania", false},
	{"san antonio", "Texas", false},
	{"san diego", "California", false},
	{"dallas", "Texas", false},
	{"san francisco", "California", false},
	{"austin", "Texas", false},
	{"seattle", "Washington", false},
	{"denver", "Colorado", false},
	{"boston", "Massachusetts", false},
	{"atlanta", "Georgia", false},
	{"miami", "Florida", false},
	{"detroit", "Michigan", false},
	{"minneapolis", "Minnesota", false},
	{"portland", "Oregon", false},
	{"las vegas", "Nevada", false},
	{"baltimore", "Maryland", false},
	{"milwaukee", "Wisconsin", false},
	{"toronto", "Ontario", true},
	{"vancouver", "British Columbia", true},
	{"montreal", "Quebec", true},
	{"calgary", "Alberta", true},
})

// stateTable lists names that contain another state's name ahead of it, so
// "west virginia" and "arkansas" are not read as "virginia" and "kansas".
var stateTable = buildStates([]string{
	"alabama", "alaska", "arizona", "arkansas", "california", "colorado",
	"connecticut", "delaware", "florida", "georgia", "hawaii", "idaho",
	"illinois", "indiana", "iowa", "kansas", "kentucky", "louisiana",
	"maine", "maryland", "massachusetts", "michigan", "minnesota",
	"mississippi", "missouri", "montana", "nebraska", "nevada",
	"new hampshire", "new jersey", "new mexico", "new york",
	"north carolina", "north dakota", "ohio", "oklahoma", "oregon",
	"pennsylvania", "rhode island", "south carolina", "south dakota",
	"tennessee", "texas", "utah", "vermont", "west virginia", "virginia",
	"washington", "wisconsin", "wyoming",
})

func buildCities(rows []struct {
	name, state string
	canadian    bool
}) []city {
	caser := cases.Title(language.English)
	out := make([]city, 0, len(rows))
	for _, r := range rows {
		c := city{
			name:        r.name,
			display:     caser.String(r.name),
			state:       r.state,
			country:     unitedStates,
			countryCode: "US",
		}
		if r.canadian {
			c.country, c.countryCode = canada, "CA"
		}
		out = append(out, c)
	}
	return out
}

func buildStates(names []string) []state {
	caser := cases.Title(language.English)
	out := make([]state, 0, len(names))
	for _, n := range names {
		out = append(out, state{name: n, display: caser.String(n)})
	}
	return out
}

// Extract infers a location from free text. A city hit returns the city with
// its state/province and country. Otherwise a US state hit returns the state
// and United States. Otherwise the result is zero.
func Extract(text string) Location {
	lower := strings.ToLower(text)
	if lower == "" {
		return Location{}
	}

	for _, c := range cityTable {
		if strings.Contains(lower, c.name) {
			return Location{
				Country:       c.country,
				CountryCode:   c.countryCode,
				StateProvince: c.state,
				City:          c.display,
			}
		}
	}

	for _, s := range stateTable {
		if strings.Contains(lower, s.name) {
			return Location{
				Country:       unitedStates,
				CountryCode:   "US",
				StateProvince: s.display,
			}
		}
	}

	return Location{}
}
