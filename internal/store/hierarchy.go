package store

import (
	"strings"

	"github.com/albapepper/retail-security-data/internal/provider"
)

// KeyCount is a generic (label, count) pair.
type KeyCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// CityNode is a leaf of the location hierarchy.
type CityNode struct {
	City  string `json:"city"`
	Count int    `json:"count"`
}

// StateNode groups cities within a state or province.
type StateNode struct {
	State  string     `json:"state"`
	Count  int        `json:"count"`
	Cities []CityNode `json:"cities"`
}

// CountryNode is the root of the location hierarchy.
type CountryNode struct {
	Country     string      `json:"country"`
	CountryCode string      `json:"country_code,omitempty"`
	Count       int         `json:"count"`
	States      []StateNode `json:"states"`
}

// BuildHierarchy nests location summaries as country, state, city. Input
// order is preserved at each level, so sorted input gives sorted output.
// Rows without a state are counted toward the country only; rows without a
// city are counted toward their state only.
func BuildHierarchy(rows []provider.LocationSummary) []CountryNode {
	out := []CountryNode{}
	countryIdx := map[string]int{}
	stateIdx := map[[2]string]int{}

	for _, r := range rows {
		if r.Country == "" {
			continue
		}
		ci, ok := countryIdx[r.Country]
		if !ok {
			ci = len(out)
			countryIdx[r.Country] = ci
			out = append(out, CountryNode{Country: r.Country, CountryCode: r.CountryCode, States: []StateNode{}})
		}
		country := &out[ci]
		country.Count += r.Count
		if country.CountryCode == "" {
			country.CountryCode = r.CountryCode
		}

		if r.StateProvince == "" {
			continue
		}
		key := [2]string{r.Country, r.StateProvince}
		si, ok := stateIdx[key]
		if !ok {
			si = len(country.States)
			stateIdx[key] = si
			country.States = append(country.States, StateNode{State: r.StateProvince, Cities: []CityNode{}})
		}
		state := &country.States[si]
		state.Count += r.Count
		if r.City != "" {
			state.Cities = append(state.Cities, CityNode{City: r.City, Count: r.Count})
		}
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike quotes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
