// Package flags holds the boolean feature switches read from configuration.
// Flags are read-only after initialization and unknown flags read as false.
package flags

import (
	"maps"
	"slices"

	"github.com/tzq-analysis/cardgen/internal/log"
)

const (
	// FlagRequireDownVariation makes a systematic with an Up histogram but
	// no Down histogram a missing-histogram error instead of a one-sided
	// shape.
	FlagRequireDownVariation = "require-down-variation"

	// FlagObservationFromData writes the integral of the data histogram as
	// the observation instead of -1.
	FlagObservationFromData = "observation-from-data"

	// FlagKeepGoing turns per-channel and per-combination failures into
	// warnings so the remaining work still runs.
	FlagKeepGoing = "keep-going"
)

// Known lists every flag the program reads.
func Known() []string {
	return []string{FlagKeepGoing, FlagObservationFromData, FlagRequireDownVariation}
}

// Registry holds feature flag state loaded from configuration.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. The map is copied. Names the
// program never reads are logged and kept so that All reports them.
func New(flags map[string]bool) *Registry {
	r := &Registry{flags: make(map[string]bool, len(flags))}
	maps.Copy(r.flags, flags)
	for name := range r.flags {
		if !slices.Contains(Known(), name) {
			log.Warn(log.CatConfig, "unknown feature flag in config", "flag", name)
		}
	}
	log.Debug(log.CatConfig, "feature flags initialized", "count", len(r.flags), "flags", r.All())
	return r
}

// Enabled returns true if the named flag is enabled. Unknown flags and a
// nil registry return false.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	return r.flags[name]
}

// With returns a copy of r with name set to value. Command-line switches
// use it to override the config file.
func (r *Registry) With(name string, value bool) *Registry {
	out := &Registry{flags: r.All()}
	out.flags[name] = value
	return out
}

// All returns a copy of all flags. Returns an empty map for a nil registry.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return make(map[string]bool)
	}
	return maps.Clone(r.flags)
}
