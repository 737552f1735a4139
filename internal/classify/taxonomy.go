// Package classify maps free-text crime descriptions onto the incident
// taxonomy, scores severity, and spots retailer mentions.
//
// All keyword tables are immutable after Default() builds them; a single
// *Classifier is shared by every transform and is safe for concurrent use.
package classify

import "sync"

// IncidentType is one category of the fixed incident taxonomy.
type IncidentType string

const (
	ORC          IncidentType = "orc" // organized retail crime
	SmashGrab    IncidentType = "smash_grab"
	ArmedRobbery IncidentType = "armed_robbery"
	Robbery      IncidentType = "robbery"
	Assault      IncidentType = "assault"
	Homicide     IncidentType = "homicide"
	Shoplifting  IncidentType = "shoplifting"
	Theft        IncidentType = "theft"
	Burglary     IncidentType = "burglary"
	Fraud        IncidentType = "fraud"
	Vandalism    IncidentType = "vandalism"
	Arson        IncidentType = "arson"
	Trespass     IncidentType = "trespass"
	Weapons      IncidentType = "weapons"
	Drugs        IncidentType = "drugs"
	Other        IncidentType = "other"
)

// Taxonomy lists every incident type in display order.
var Taxonomy = []IncidentType{
	ORC, SmashGrab, ArmedRobbery, Robbery, Assault, Homicide, Shoplifting, Theft,
	Burglary, Fraud, Vandalism, Arson, Trespass, Weapons, Drugs, Other,
}

// Valid reports whether s names a taxonomy category.
func Valid(s string) bool {
	for _, t := range Taxonomy {
		if string(t) == s {
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Keyword tables
// --------------------------------------------------------------------------

type rule struct {
	typ      IncidentType
	keywords []string
}

// retailTier is checked first for narrative text. Organized and violent
// retail categories come before generic theft so "organized retail crime
// ring stole..." lands on orc. Agency offense labels never see it.
var retailTier = []rule{
	{ORC, []string{"organized retail crime", "theft ring", "crime ring", "fencing operation"}},
	{SmashGrab, []string{"smash and grab", "smash-and-grab", "flash mob", "mob robbery"}},
	{ArmedRobbery, []string{"armed robbery", "gunpoint", "gun robbery", "armed suspect"}},
	{Robbery, []string{"robbery", "robbed", "robber"}},
	{Assault, []string{"assault", "attacked", "violence", "violent", "injured"}},
	{Shoplifting, []string{"shoplifting", "shoplift", "shoplifter"}},
	{Theft, []string{"theft", "stolen", "stole", "stealing", "larceny"}},
	{Burglary, []string{"burglary", "break-in", "breaking and entering", "broke into"}},
	{Fraud, []string{"fraud", "scam", "counterfeit", "identity theft"}},
	{Vandalism, []string{"vandalism", "vandalized", "graffiti", "property damage"}},
}

// generalTier is the first table for agency offense labels and the fallback
// for narrative text.
var generalTier = []rule{
	{Theft, []string{"theft", "larceny", "shoplifting", "retail theft", "petit larceny", "grand larceny", "stealing"}},
	{Robbery, []string{"robbery", "armed robbery", "strong arm robbery", "mugging"}},
	{Burglary, []string{"burglary", "breaking and entering", "b&e", "break-in"}},
	{Assault, []string{"assault", "battery", "aggravated assault", "simple assault", "attack"}},
	{Homicide, []string{"homicide", "murder", "manslaughter", "killing"}},
	{Vandalism, []string{"vandalism", "criminal mischief", "property damage", "graffiti"}},
	{Arson, []string{"arson", "set fire", "set on fire", "burning"}},
	{Fraud, []string{"fraud", "forgery", "counterfeit", "identity theft", "credit card fraud"}},
	{Trespass, []string{"trespass", "trespassing", "criminal trespass"}},
	{Weapons, []string{"weapons", "gun", "firearm", "knife"}},
	{Drugs, []string{"drugs", "narcotics", "controlled substance", "possession"}},
}

// policeCodeTier catches abbreviated agency offense codes.
var policeCodeTier = []rule{
	{Theft, []string{"larceny", "stealing", "shoplifting", "pocket-picking", "purse-snatching"}},
	{Robbery, []string{"robbery", "strong-arm", "mugging"}},
	{Burglary, []string{"burglary", "break", "entry", "b&e"}},
	{Assault, []string{"assault", "battery", "agg assault"}},
	{Fraud, []string{"fraud", "forgery", "embezzlement", "counterfeit"}},
	{Vandalism, []string{"vandalism", "mischief", "damage", "graffiti"}},
	{Weapons, []string{"weapon", "firearm", "gun", "knife"}},
	{Drugs, []string{"drug", "narcotic", "controlled substance"}},
}

// baseSeverity is the starting score per type; unknown types start at 2.
var baseSeverity = map[IncidentType]int{
	Homicide:     5,
	ArmedRobbery: 5,
	Assault:      4,
	Robbery:      4,
	ORC:          4,
	SmashGrab:    4,
	Arson:        4,
	Weapons:      4,
	Burglary:     3,
	Theft:        2,
	Shoplifting:  2,
	Fraud:        2,
	Vandalism:    2,
	Drugs:        2,
	Other:        2,
	Trespass:     1,
}

const defaultSeverity = 2

var (
	violenceTerms = []string{
		"aggravated", "felony", "armed", "weapon", "firearm", "gun",
		"shot", "shooting", "stabbed", "killed", "murder", "dead",
		"hostage", "violence", "violent",
	}
	scaleTerms = []string{
		"organized", "million", "$100,000", "hundreds of thousands",
		"multiple stores", "spree", "mass theft", "mass looting",
	}
	minorTerms = []string{"petty", "minor", "misdemeanor", "small"}
)

// majorRetailers is matched in order; matches are reported in this order.
var majorRetailers = []string{
	"walmart", "target", "costco", "kroger", "walgreens", "cvs",
	"home depot", "lowe's", "best buy", "macy's", "nordstrom",
	"tj maxx", "marshalls", "ross", "dollar general", "dollar tree",
	"7-eleven", "circle k", "wawa", "sheetz", "safeway", "albertsons",
	"whole foods", "trader joe's", "aldi", "publix", "h-e-b",
	"rite aid", "ulta", "sephora", "apple store", "nike",
	"foot locker", "dick's sporting goods", "rei", "academy sports",
	"autozone", "o'reilly", "advance auto", "pep boys",
	"bed bath", "pier 1", "pottery barn", "williams sonoma",
	"gamestop", "barnes noble", "staples", "office depot",
}

// --------------------------------------------------------------------------
// Classifier
// --------------------------------------------------------------------------

// Classifier bundles the keyword tables. Build it with Default.
type Classifier struct {
	tiers     [][]rule // narrative text: news and RSS
	report    [][]rule // agency offense label plus description
	base      map[IncidentType]int
	violence  []string
	scale     []string
	minor     []string
	retailers []retailer
}

var (
	defaultOnce       sync.Once
	defaultClassifier *Classifier
)

// Default returns the process-wide classifier, building it on first use.
func Default() *Classifier {
	defaultOnce.Do(func() {
		defaultClassifier = &Classifier{
			tiers:     [][]rule{retailTier, generalTier, policeCodeTier},
			report:    [][]rule{generalTier, policeCodeTier},
			base:      baseSeverity,
			violence:  violenceTerms,
			scale:     scaleTerms,
			minor:     minorTerms,
			retailers: buildRetailers(majorRetailers),
		}
	})
	return defaultClassifier
}
