package datacard

import (
	"slices"

	"github.com/tzq-analysis/cardgen/internal/processes"
)

const (
	DefaultDataTag              = "data"
	DefaultAutoMCStatsThreshold = 10.0
	dataObs                     = "data_obs"
)

// Ratio ties processes to a shared rate parameter. With only a numerator
// the numerator is scaled by the parameter directly; with a denominator
// both processes float together within [0, 3].
type Ratio struct {
	Name        string
	Numerator   string
	Denominator string
}

// Options describes one channel's card.
type Options struct {
	Channel  string
	Variable string

	// HistogramFile is written into the shapes lines. A relative path is
	// resolved against the card directory when checking that it exists.
	HistogramFile string

	// DataTag is the process part of the observed-data histogram.
	DataTag string

	// Shape and LnN select which registry systematics appear in the table
	// and with which type. Shape rows come first.
	Shape []string
	LnN   []string

	// RateParams are processes that get a free norm_<process> parameter.
	RateParams []string

	Ratio *Ratio

	AutoMCStatsThreshold float64

	// Observation is the observed event count; nil writes -1 so the fit
	// engine takes it from the data histogram.
	Observation *float64
}

// DefaultOptions returns options with the default data tag and threshold.
func DefaultOptions(channel, variable, histogramFile string) Options {
	return Options{
		Channel:              channel,
		Variable:             variable,
		HistogramFile:        histogramFile,
		DataTag:              DefaultDataTag,
		AutoMCStatsThreshold: DefaultAutoMCStatsThreshold,
	}
}

func (o Options) dataTag() string {
	if o.DataTag == "" {
		return DefaultDataTag
	}
	return o.DataTag
}

// Validate checks the options against reg without touching the filesystem.
func (o Options) Validate(reg *processes.Registry) error {
	if o.Channel == "" {
		return &InvalidConstraintError{Reason: "channel name is empty"}
	}
	if o.Variable == "" {
		return &InvalidConstraintError{Reason: "variable name is empty"}
	}
	if o.HistogramFile == "" {
		return &InvalidConstraintError{Reason: "histogram file is empty"}
	}
	if reg.Len() == 0 {
		return ErrEmptyRegistry
	}

	seen := make(map[string]string)
	for _, sel := range []struct {
		kind  string
		names []string
	}{{"shape", o.Shape}, {"lnN", o.LnN}} {
		for _, s := range sel.names {
			if !reg.HasSystematic(s) {
				return &processes.NotFoundError{Kind: "systematic", Name: s}
			}
			if prev, dup := seen[s]; dup {
				return &InvalidConstraintError{Name: s, Reason: "systematic selected as both " + prev + " and " + sel.kind}
			}
			seen[s] = sel.kind
		}
	}

	for i, p := range o.RateParams {
		if !reg.HasProcess(p) {
			return &UnknownProcessError{Name: p, Role: "rate parameter"}
		}
		if slices.Contains(o.RateParams[:i], p) {
			return &InvalidConstraintError{Name: rateParamName(p), Reason: "rate parameter requested twice"}
		}
	}

	if r := o.Ratio; r != nil {
		if r.Name == "" {
			return &InvalidConstraintError{Reason: "ratio constraint has no parameter name"}
		}
		num, ok := reg.Process(r.Numerator)
		if !ok {
			return &UnknownProcessError{Name: r.Numerator, Role: "ratio numerator"}
		}
		if !num.IsSignal() {
			return &InvalidConstraintError{Name: r.Name, Reason: "numerator " + r.Numerator + " is not a signal process"}
		}
		if r.Denominator != "" {
			if !reg.HasProcess(r.Denominator) {
				return &UnknownProcessError{Name: r.Denominator, Role: "ratio denominator"}
			}
			if r.Denominator == r.Numerator {
				return &InvalidConstraintError{Name: r.Name, Reason: "numerator and denominator are the same process"}
			}
		}
	}
	return nil
}

func rateParamName(process string) string {
	return "norm_" + process
}
