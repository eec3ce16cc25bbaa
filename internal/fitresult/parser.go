// Package fitresult recovers fit results from fit engine logs.
package fitresult

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tzq-analysis/cardgen/internal/log"
)

// Mode selects which result format to look for.
type Mode string

const (
	ModeSignificance   Mode = "significance"
	ModeSignalStrength Mode = "signalstrength"
	ModeMultiPOI       Mode = "multipoi"
	ModeAny            Mode = "any"
)

// DefaultPOI is the parameter of interest of single-POI fits.
const DefaultPOI = "r"

// Log literals written by the fit engine.
const (
	significancePrefix   = "Significance:"
	signalStrengthPrefix = "Best fit r:"
	signalStrengthCL     = " (68% CL)"
	multiPOICL           = "(68%)"
	fitFailed            = "Fit failed."
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(s)); m {
	case ModeSignificance, ModeSignalStrength, ModeMultiPOI, ModeAny:
		return m, nil
	}
	return "", fmt.Errorf("unknown fit result mode %q", s)
}

// Result is a point estimate with an asymmetric interval. ErrLow and
// ErrHigh are magnitudes; a significance has neither.
type Result struct {
	Mode    Mode
	POI     string
	Central float64
	ErrLow  float64
	ErrHigh float64
}

// String formats the result the way it is printed in tables.
func (r Result) String() string {
	if r.Mode == ModeSignificance {
		return fmt.Sprintf("%s = %s", r.POI, strconv.FormatFloat(r.Central, 'f', -1, 64))
	}
	return fmt.Sprintf("%s = %s -%s/+%s", r.POI,
		strconv.FormatFloat(r.Central, 'f', -1, 64),
		strconv.FormatFloat(r.ErrLow, 'f', -1, 64),
		strconv.FormatFloat(r.ErrHigh, 'f', -1, 64))
}

// ParseSingle extracts one result from text. ModeAny tries significance,
// then signal strength, then a multi-POI line for DefaultPOI, and returns the
// first format with exactly one match. If none succeeds, the first
// duplicate-match error is reported, else a no-match error.
func ParseSingle(text string, mode Mode) (Result, error) {
	lines := strings.Split(text, "\n")
	if err := checkFailure(lines); err != nil {
		return Result{}, err
	}

	switch mode {
	case ModeSignificance:
		return parseSignificance(lines)
	case ModeSignalStrength:
		return parseSignalStrength(lines)
	case ModeMultiPOI:
		rs, err := parseMulti(lines, []string{DefaultPOI})
		if err != nil {
			return Result{}, err
		}
		return rs[0], nil
	case ModeAny:
		var duplicate *AmbiguousResultError
		for _, m := range []Mode{ModeSignificance, ModeSignalStrength, ModeMultiPOI} {
			r, err := ParseSingle(text, m)
			var amb *AmbiguousResultError
			if !errors.As(err, &amb) {
				return r, err
			}
			if amb.Count > 1 && duplicate == nil {
				duplicate = amb
			}
		}
		if duplicate != nil {
			return Result{}, duplicate
		}
		return Result{}, &AmbiguousResultError{Pattern: "any known result format", Count: 0}
	}
	return Result{}, fmt.Errorf("unknown fit result mode %q", mode)
}

// ParseMulti extracts one result per POI from multi-POI output. With no
// POIs given, every multi-POI line is returned in log order.
func ParseMulti(text string, pois []string) ([]Result, error) {
	lines := strings.Split(text, "\n")
	if err := checkFailure(lines); err != nil {
		return nil, err
	}
	return parseMulti(lines, pois)
}

// ParseFile reads a fit log and parses it. pois only applies to ModeMultiPOI.
func ParseFile(path string, mode Mode, pois ...string) ([]Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fit log: %w", err)
	}

	var results []Result
	if mode == ModeMultiPOI {
		results, err = ParseMulti(string(data), pois)
	} else {
		var r Result
		r, err = ParseSingle(string(data), mode)
		results = []Result{r}
	}
	if err != nil {
		var amb *AmbiguousResultError
		var failed *UpstreamFitFailure
		switch {
		case errors.As(err, &amb):
			amb.Path = path
		case errors.As(err, &failed):
			failed.Path = path
		}
		return nil, err
	}

	log.Debug(log.CatFit, "parsed fit log", "file", path, "mode", string(mode), "results", len(results))
	return results, nil
}

func checkFailure(lines []string) error {
	for i, l := range lines {
		if strings.Contains(l, fitFailed) {
			return &UpstreamFitFailure{Line: i + 1}
		}
	}
	return nil
}

func parseSignificance(lines []string) (Result, error) {
	var found []Result
	for _, l := range lines {
		rest, ok := strings.CutPrefix(strings.TrimSpace(l), significancePrefix)
		if !ok {
			continue
		}
		f := strings.Fields(rest)
		if len(f) == 0 {
			continue
		}
		v, err := parseNumber(f[0])
		if err != nil {
			continue
		}
		found = append(found, Result{Mode: ModeSignificance, POI: DefaultPOI, Central: v})
	}
	if len(found) != 1 {
		return Result{}, &AmbiguousResultError{Pattern: significancePrefix, Count: len(found)}
	}
	return found[0], nil
}

func parseSignalStrength(lines []string) (Result, error) {
	var found []Result
	for _, l := range lines {
		rest, ok := strings.CutPrefix(strings.TrimSpace(l), signalStrengthPrefix)
		if !ok || !strings.Contains(l, signalStrengthCL) {
			continue
		}
		f := strings.Fields(rest)
		if len(f) < 2 {
			continue
		}
		central, err := parseNumber(f[0])
		if err != nil {
			continue
		}
		lo, hi, err := parseInterval(f[1])
		if err != nil {
			continue
		}
		found = append(found, Result{Mode: ModeSignalStrength, POI: DefaultPOI, Central: central, ErrLow: lo, ErrHigh: hi})
	}
	if len(found) != 1 {
		return Result{}, &AmbiguousResultError{Pattern: signalStrengthPrefix, Count: len(found)}
	}
	return found[0], nil
}

// parseMulti reads lines of exactly five tokens: "<poi> : <c> -<d>/+<u> (68%)".
func parseMulti(lines []string, pois []string) ([]Result, error) {
	byPOI := make(map[string][]Result)
	var order []string
	for _, l := range lines {
		f := strings.Fields(l)
		if len(f) != 5 || f[1] != ":" || f[4] != multiPOICL {
			continue
		}
		central, err := parseNumber(f[2])
		if err != nil {
			continue
		}
		lo, hi, err := parseInterval(f[3])
		if err != nil {
			continue
		}
		if _, seen := byPOI[f[0]]; !seen {
			order = append(order, f[0])
		}
		byPOI[f[0]] = append(byPOI[f[0]], Result{Mode: ModeMultiPOI, POI: f[0], Central: central, ErrLow: lo, ErrHigh: hi})
	}

	if len(pois) == 0 {
		if len(order) == 0 {
			return nil, &AmbiguousResultError{Pattern: "<poi> : <value> -<down>/+<up> (68%)", Count: 0}
		}
		pois = order
	}
	results := make([]Result, 0, len(pois))
	for _, poi := range pois {
		found := byPOI[poi]
		if len(found) != 1 {
			return nil, &AmbiguousResultError{Pattern: poi + " : <value> -<down>/+<up> (68%)", Count: len(found)}
		}
		results = append(results, found[0])
	}
	return results, nil
}

// parseInterval reads "-d/+u" into two non-negative magnitudes.
func parseInterval(s string) (lo, hi float64, err error) {
	down, up, ok := strings.Cut(s, "/")
	if !ok || !strings.HasPrefix(down, "-") || !strings.HasPrefix(up, "+") {
		return 0, 0, fmt.Errorf("malformed interval %q", s)
	}
	lo, err = parseNumber(down[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("interval %q: %w", s, err)
	}
	hi, err = parseNumber(up[1:])
	if err != nil {
		return 0, 0, fmt.Errorf("interval %q: %w", s, err)
	}
	return math.Abs(lo), math.Abs(hi), nil
}

// parseNumber reads a finite float. NaN and infinities come from fits that
// did not converge and never count as a result.
func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value %q", s)
	}
	return v, nil
}
