// Package grades maps signal quality grades to tiered exit policies.
// The table is static configuration: rules never change at run time, and an
// unknown grade always resolves to the most conservative defined rule.
package grades

import "strings"

// PartialExit takes a percentage of the position off at a given R-multiple.
type PartialExit struct {
	TriggerR float64
	Percent  float64
}

// Rule is the tiered exit policy for one grade.
type Rule struct {
	Grade string

	// BreakEvenR is the unrealized R-multiple at which the protective stop
	// moves to the entry price.
	BreakEvenR float64

	// Partials are taken in order as R crosses each trigger.
	Partials []PartialExit

	// HardCapR flattens the position outright once reached. Zero means
	// uncapped.
	HardCapR float64

	// TrailingEnabled turns on percentage trailing once R crosses
	// TrailingStartR.
	TrailingEnabled bool
	TrailingStartR  float64
	TrailingPercent float64
}

// fallbackGrade is the most conservative rule in the table; unknown and
// missing grades resolve to it.
const fallbackGrade = "D"

var rules = map[string]Rule{
	"A+": {
		Grade:           "A+",
		BreakEvenR:      1.0,
		Partials:        []PartialExit{{TriggerR: 1.5, Percent: 25}, {TriggerR: 2.5, Percent: 25}},
		HardCapR:        0, // runners: no cap
		TrailingEnabled: true,
		TrailingStartR:  2.0,
		TrailingPercent: 1.5,
	},
	"A": {
		Grade:           "A",
		BreakEvenR:      1.0,
		Partials:        []PartialExit{{TriggerR: 1.5, Percent: 33}},
		HardCapR:        4.0,
		TrailingEnabled: true,
		TrailingStartR:  2.5,
		TrailingPercent: 1.5,
	},
	"B": {
		Grade:           "B",
		BreakEvenR:      0.8,
		Partials:        []PartialExit{{TriggerR: 1.2, Percent: 50}},
		HardCapR:        3.0,
		TrailingEnabled: true,
		TrailingStartR:  2.0,
		TrailingPercent: 2.0,
	},
	"C": {
		Grade:      "C",
		BreakEvenR: 0.7,
		Partials:   []PartialExit{{TriggerR: 1.0, Percent: 50}},
		HardCapR:   2.0,
	},
	"D": {
		Grade:      "D",
		BreakEvenR: 0.5,
		HardCapR:   1.5,
	},
}

// Lookup resolves a grade to its rule, falling back to the most conservative
// rule for unknown or missing grades.
func Lookup(grade string) Rule {
	g := strings.ToUpper(strings.TrimSpace(grade))
	if r, ok := rules[g]; ok {
		return r
	}
	return rules[fallbackGrade]
}

// Conservative returns the fallback rule directly.
func Conservative() Rule {
	return rules[fallbackGrade]
}

// Defined returns whether a grade exists in the table.
func Defined(grade string) bool {
	_, ok := rules[strings.ToUpper(strings.TrimSpace(grade))]
	return ok
}
