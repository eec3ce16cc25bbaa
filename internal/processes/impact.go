package processes

import (
	"fmt"
	"strconv"
	"strings"
)

// NotApplicableSymbol is how an unaffected (process, systematic) cell is written.
const NotApplicableSymbol = "-"

// Impact is the effect of one systematic on one process: either a numeric
// magnitude or not applicable. The zero value is NotApplicable.
type Impact struct {
	magnitude  float64
	applicable bool
}

// NotApplicable marks a systematic that does not affect a process.
var NotApplicable = Impact{}

// Applicable returns an Impact with the given magnitude.
func Applicable(magnitude float64) Impact {
	return Impact{magnitude: magnitude, applicable: true}
}

// IsApplicable reports whether the systematic affects the process.
func (i Impact) IsApplicable() bool {
	return i.applicable
}

// Magnitude returns the numeric magnitude and whether the impact is applicable.
func (i Impact) Magnitude() (float64, bool) {
	return i.magnitude, i.applicable
}

// String renders the impact the way it appears in a datacard cell.
func (i Impact) String() string {
	if !i.applicable {
		return NotApplicableSymbol
	}
	return FormatNumber(i.magnitude)
}

// ParseImpact parses a datacard cell back into an Impact.
func ParseImpact(s string) (Impact, error) {
	s = strings.TrimSpace(s)
	if s == NotApplicableSymbol {
		return NotApplicable, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return NotApplicable, fmt.Errorf("parse impact %q: %w", s, err)
	}
	return Applicable(v), nil
}

// FormatNumber renders v with the shortest representation that round-trips.
// All numbers written to datacards go through here so output is stable.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
