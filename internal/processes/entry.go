// Package processes holds the in-memory model of a measurement channel:
// the physics processes, their yields and their systematic impacts.
package processes

import "maps"

// ProcessEntry is one physics process in a channel.
type ProcessEntry struct {
	// Name is unique within a registry.
	Name string

	// ID follows the fit engine convention: signal processes have ID <= 0,
	// background processes have strictly positive IDs.
	ID int

	// Yield is the nominal expected event count.
	Yield float64

	// HistogramAlias is the process part of this process's histogram names.
	// Empty means the same as Name.
	HistogramAlias string

	// Systematics maps systematic name to impact. Inside a registry the key
	// set always equals the registry's systematic list.
	Systematics map[string]Impact
}

// NewProcessEntry returns an entry with no systematics.
func NewProcessEntry(name string, id int, yield float64) ProcessEntry {
	return ProcessEntry{
		Name:        name,
		ID:          id,
		Yield:       yield,
		Systematics: make(map[string]Impact),
	}
}

// IsSignal reports whether the entry carries a signal id.
func (e ProcessEntry) IsSignal() bool {
	return e.ID <= 0
}

// Alias returns the name used to look up this process's histograms.
func (e ProcessEntry) Alias() string {
	if e.HistogramAlias == "" {
		return e.Name
	}
	return e.HistogramAlias
}

// clone returns a deep copy so callers cannot reach registry internals.
func (e ProcessEntry) clone() ProcessEntry {
	out := e
	out.Systematics = make(map[string]Impact, len(e.Systematics))
	maps.Copy(out.Systematics, e.Systematics)
	return out
}
