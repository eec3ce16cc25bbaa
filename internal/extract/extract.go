// Package extract builds a process registry from histogram names that
// follow the <process>_<variable>_<systematic> convention, where systematic
// is "nominal" or a source name suffixed with "Up" or "Down".
package extract

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tzq-analysis/cardgen/internal/histstore"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/processes"
)

const (
	Nominal        = "nominal"
	UpSuffix       = "Up"
	DownSuffix     = "Down"
	DefaultDataTag = "data"
)

// IntegralFunc returns the integral of a histogram; ok is false when the
// histogram does not exist.
type IntegralFunc func(name string) (value float64, ok bool, err error)

// Options controls how histogram names become processes.
type Options struct {
	// SignalTags name the processes that receive signal ids (0, -1, ...).
	SignalTags []string

	// DataTag is the process part of observed-data histograms. Defaults to "data".
	DataTag string

	// Exclude lists systematic sources that are ignored.
	Exclude []string

	// RequireDown fails extraction when an Up variation has no Down partner.
	RequireDown bool
}

func (o Options) dataTag() string {
	if o.DataTag == "" {
		return DefaultDataTag
	}
	return o.DataTag
}

// Name is a parsed histogram name.
type Name struct {
	Process    string
	Variable   string
	Systematic string
}

// Source returns the systematic source and its direction ("Up", "Down" or
// "" for nominal and unrecognised suffixes).
func (n Name) Source() (source, direction string) {
	switch {
	case n.Systematic == Nominal:
		return "", ""
	case strings.HasSuffix(n.Systematic, UpSuffix) && len(n.Systematic) > len(UpSuffix):
		return strings.TrimSuffix(n.Systematic, UpSuffix), UpSuffix
	case strings.HasSuffix(n.Systematic, DownSuffix) && len(n.Systematic) > len(DownSuffix):
		return strings.TrimSuffix(n.Systematic, DownSuffix), DownSuffix
	}
	return "", ""
}

// HistogramName formats a name in the naming convention.
func HistogramName(process, variable, systematic string) string {
	return process + "_" + variable + "_" + systematic
}

// ParseName splits a histogram name around the variable. ok is false when
// the name does not contain "_<variable>_" with non-empty parts around it.
func ParseName(name, variable string) (Name, bool) {
	if variable == "" {
		return Name{}, false
	}
	sep := "_" + variable + "_"
	i := strings.Index(name, sep)
	if i <= 0 || i+len(sep) >= len(name) {
		return Name{}, false
	}
	return Name{
		Process:    name[:i],
		Variable:   variable,
		Systematic: name[i+len(sep):],
	}, true
}

// Variables returns the variables for which observed data exists, in file
// order, by looking for <dataTag>_<variable>_nominal histograms.
func Variables(names []string, dataTag string) []string {
	if dataTag == "" {
		dataTag = DefaultDataTag
	}
	prefix := dataTag + "_"
	suffix := "_" + Nominal
	var vars []string
	for _, n := range names {
		if !strings.HasPrefix(n, prefix) || !strings.HasSuffix(n, suffix) {
			continue
		}
		v := strings.TrimSuffix(strings.TrimPrefix(n, prefix), suffix)
		if v != "" && !slices.Contains(vars, v) {
			vars = append(vars, v)
		}
	}
	return vars
}

// BuildRegistry turns the histograms of one variable into a registry.
// Processes are created in order of first appearance. Nominal integrals
// are summed into the yield and every Up variation marks its source as
// applicable with magnitude 1.
func BuildRegistry(names []string, variable string, integral IntegralFunc, opts Options) (*processes.Registry, error) {
	type pending struct {
		entry processes.ProcessEntry
		ups   map[string]bool
		downs map[string]bool
	}

	var (
		order   []string
		byName  = make(map[string]*pending)
		nextSig = 0
		nextBkg = 1
		skipped int
	)

	for _, raw := range names {
		n, ok := ParseName(raw, variable)
		if !ok || n.Process == opts.dataTag() {
			skipped++
			continue
		}

		p, exists := byName[n.Process]
		if !exists {
			id := nextBkg
			if slices.Contains(opts.SignalTags, n.Process) {
				id = nextSig
				nextSig--
			} else {
				nextBkg++
			}
			p = &pending{
				entry: processes.NewProcessEntry(n.Process, id, 0),
				ups:   make(map[string]bool),
				downs: make(map[string]bool),
			}
			byName[n.Process] = p
			order = append(order, n.Process)
		}

		if n.Systematic == Nominal {
			v, found, err := integral(raw)
			if err != nil {
				return nil, fmt.Errorf("integral of %s: %w", raw, err)
			}
			if !found {
				return nil, &MissingHistogramError{Name: raw}
			}
			p.entry.Yield += v
			continue
		}

		source, dir := n.Source()
		switch {
		case dir == "":
			log.Debug(log.CatExtract, "ignoring histogram with unknown systematic suffix", "histogram", raw)
		case slices.Contains(opts.Exclude, source):
			log.Debug(log.CatExtract, "ignoring excluded systematic", "histogram", raw, "systematic", source)
		case dir == UpSuffix:
			p.ups[source] = true
			p.entry.Systematics[source] = processes.Applicable(1)
		default:
			p.downs[source] = true
		}
	}

	reg := processes.NewRegistry()
	for _, name := range order {
		p := byName[name]
		if opts.RequireDown {
			for _, source := range sortedKeys(p.ups) {
				if !p.downs[source] {
					return nil, &MissingHistogramError{Name: HistogramName(name, variable, source+DownSuffix)}
				}
			}
		}
		if p.entry.Yield == 0 {
			log.Warn(log.CatExtract, "process has zero nominal yield", "process", name, "variable", variable)
		}
		if err := reg.AddProcess(p.entry); err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
	}

	if reg.Len() == 0 {
		log.Warn(log.CatExtract, "no processes found", "variable", variable, "histograms", len(names), "skipped", skipped)
	} else if len(reg.Systematics()) == 0 {
		log.Warn(log.CatExtract, "no systematics found", "variable", variable, "processes", reg.Len())
	}
	log.Debug(log.CatExtract, "built registry", "variable", variable,
		"processes", reg.Len(), "systematics", len(reg.Systematics()))
	return reg, nil
}

// FromStore lists the histograms of path and builds the registry for variable.
func FromStore(ctx context.Context, store histstore.Store, path, variable string, opts Options) (*processes.Registry, error) {
	names, err := store.ListHistogramNames(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("list histograms: %w", err)
	}
	reg, err := BuildRegistry(names, variable, func(name string) (float64, bool, error) {
		return store.Integral(ctx, path, name)
	}, opts)
	if err != nil {
		var missing *MissingHistogramError
		if errors.As(err, &missing) && missing.File == "" {
			missing.File = path
		}
		return nil, err
	}
	return reg, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
