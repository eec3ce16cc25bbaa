package processes

import (
	"fmt"
	"slices"
	"sort"

	"github.com/tzq-analysis/cardgen/internal/log"
)

// Registry owns the processes of one channel and the canonical list of
// systematic names.
//
// Invariants, restored after every mutation:
//   - process names and ids are unique
//   - every entry's Systematics key set equals the systematic list
//   - the process list is ordered by ascending id
//   - the systematic list is sorted
//
// A Registry is not safe for concurrent use; each channel owns its own.
type Registry struct {
	entries map[string]*ProcessEntry
	plist   []string
	slist   []string
	minID   int
	maxID   int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*ProcessEntry),
	}
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// AddProcess inserts a copy of entry. Systematics known to the registry but
// absent on the entry are set to NotApplicable; systematics on the entry
// that the registry does not know yet are added and set to NotApplicable on
// every other process.
func (r *Registry) AddProcess(entry ProcessEntry) error {
	if entry.Name == "" {
		return fmt.Errorf("add process: %w", ErrEmptyName)
	}
	if entry.Yield < 0 {
		return fmt.Errorf("add process %q: %w (%s)", entry.Name, ErrNegativeYield, FormatNumber(entry.Yield))
	}
	if _, exists := r.entries[entry.Name]; exists {
		return &DuplicateEntityError{Kind: "process", Name: entry.Name}
	}
	for _, other := range r.entries {
		if other.ID == entry.ID {
			return &DuplicateEntityError{Kind: "process id", Name: other.Name, ID: entry.ID}
		}
	}
	for name := range entry.Systematics {
		if name == "" {
			return fmt.Errorf("add process %q: systematic: %w", entry.Name, ErrEmptyName)
		}
	}

	e := entry.clone()
	if e.HistogramAlias == "" {
		e.HistogramAlias = e.Name
	}
	for _, s := range r.slist {
		if _, ok := e.Systematics[s]; !ok {
			e.Systematics[s] = NotApplicable
		}
	}

	var added []string
	for s := range e.Systematics {
		if !r.hasSystematic(s) {
			added = append(added, s)
		}
	}
	sort.Strings(added)
	for _, s := range added {
		r.insertSystematic(s)
		for _, other := range r.entries {
			other.Systematics[s] = NotApplicable
		}
	}

	r.entries[e.Name] = &e
	r.plist = append(r.plist, e.Name)
	r.Sort()

	log.Debug(log.CatRegistry, "added process", "process", e.Name, "id", e.ID, "new_systematics", len(added))
	return nil
}

// RemoveProcess deletes a process and renumbers the remaining ids so that
// background ids stay contiguous and signal ids stay packed towards zero.
func (r *Registry) RemoveProcess(name string) error {
	e, ok := r.entries[name]
	if !ok {
		return &NotFoundError{Kind: "process", Name: name}
	}
	removed := e.ID
	delete(r.entries, name)
	r.plist = slices.DeleteFunc(r.plist, func(p string) bool { return p == name })

	for _, other := range r.entries {
		switch {
		case removed > 0 && other.ID > removed:
			other.ID--
		case removed <= 0 && other.ID < removed:
			other.ID++
		}
	}
	r.Sort()

	log.Debug(log.CatRegistry, "removed process", "process", name, "id", removed)
	return nil
}

// AddNormSystematic adds a new systematic with one impact per process.
// impacts must name exactly the registered processes: a normalization
// uncertainty silently applied to only part of the channel is a bug.
func (r *Registry) AddNormSystematic(name string, impacts map[string]Impact) error {
	if name == "" {
		return fmt.Errorf("add norm systematic: %w", ErrEmptyName)
	}
	if r.hasSystematic(name) {
		return &DuplicateEntityError{Kind: "systematic", Name: name}
	}

	var missing, extra []string
	for _, p := range r.plist {
		if _, ok := impacts[p]; !ok {
			missing = append(missing, p)
		}
	}
	for p := range impacts {
		if _, ok := r.entries[p]; !ok {
			extra = append(extra, p)
		}
	}
	if len(missing) > 0 || len(extra) > 0 {
		sort.Strings(extra)
		return &SchemaMismatchError{Systematic: name, Missing: missing, Extra: extra}
	}

	r.insertSystematic(name)
	for p, impact := range impacts {
		r.entries[p].Systematics[name] = impact
	}

	log.Debug(log.CatRegistry, "added norm systematic", "systematic", name, "processes", len(impacts))
	return nil
}

// EnableSystematic sets the impact of an existing systematic on the given
// processes. Nothing is modified if any name is unknown.
func (r *Registry) EnableSystematic(name string, processNames []string, magnitude Impact) error {
	if !r.hasSystematic(name) {
		return &NotFoundError{Kind: "systematic", Name: name}
	}
	for _, p := range processNames {
		if _, ok := r.entries[p]; !ok {
			return &NotFoundError{Kind: "process", Name: p}
		}
	}
	for _, p := range processNames {
		r.entries[p].Systematics[name] = magnitude
	}
	return nil
}

// DisableSystematic marks an existing systematic as not applicable to the
// given processes.
func (r *Registry) DisableSystematic(name string, processNames []string) error {
	return r.EnableSystematic(name, processNames, NotApplicable)
}

// ChangeProcessName renames a process. Its id, systematics and histogram
// alias are unchanged, so its histograms are still found under the old name.
func (r *Registry) ChangeProcessName(oldName, newName string) error {
	e, ok := r.entries[oldName]
	if !ok {
		return &NotFoundError{Kind: "process", Name: oldName}
	}
	if newName == "" {
		return fmt.Errorf("rename process %q: %w", oldName, ErrEmptyName)
	}
	if oldName == newName {
		return nil
	}
	if _, exists := r.entries[newName]; exists {
		return &DuplicateEntityError{Kind: "process", Name: newName}
	}

	delete(r.entries, oldName)
	e.Name = newName
	r.entries[newName] = e
	for i, p := range r.plist {
		if p == oldName {
			r.plist[i] = newName
		}
	}
	r.Sort()

	log.Debug(log.CatRegistry, "renamed process", "from", oldName, "to", newName)
	return nil
}

// PromoteToBackground turns a signal process into the first background
// process. Existing background ids shift up by one and the remaining signal
// ids close the gap, so both ranges stay contiguous.
func (r *Registry) PromoteToBackground(name string) error {
	e, ok := r.entries[name]
	if !ok {
		return &NotFoundError{Kind: "process", Name: name}
	}
	if e.ID > 0 {
		log.Warn(log.CatRegistry, "process is already a background, not promoting", "process", name, "id", e.ID)
		return nil
	}

	old := e.ID
	for _, other := range r.entries {
		switch {
		case other.ID > 0:
			other.ID++
		case other.ID < old:
			other.ID++
		}
	}
	e.ID = 1
	r.Sort()

	log.Debug(log.CatRegistry, "promoted process to background", "process", name, "old_id", old)
	return nil
}

// SetYield overwrites the nominal yield of a process.
func (r *Registry) SetYield(name string, yield float64) error {
	e, ok := r.entries[name]
	if !ok {
		return &NotFoundError{Kind: "process", Name: name}
	}
	if yield < 0 {
		return fmt.Errorf("set yield of %q: %w (%s)", name, ErrNegativeYield, FormatNumber(yield))
	}
	e.Yield = yield
	return nil
}

// Sort orders the process list by ascending id and refreshes the id range.
// Every mutation calls it; callers rarely need to.
func (r *Registry) Sort() {
	sort.SliceStable(r.plist, func(i, j int) bool {
		return r.entries[r.plist[i]].ID < r.entries[r.plist[j]].ID
	})
	r.minID, r.maxID = 0, 0
	for i, p := range r.plist {
		id := r.entries[p].ID
		if i == 0 || id < r.minID {
			r.minID = id
		}
		if i == 0 || id > r.maxID {
			r.maxID = id
		}
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

// Processes returns process names ordered by ascending id.
func (r *Registry) Processes() []string {
	return slices.Clone(r.plist)
}

// Systematics returns the sorted systematic names.
func (r *Registry) Systematics() []string {
	return slices.Clone(r.slist)
}

// Len returns the number of processes.
func (r *Registry) Len() int {
	return len(r.plist)
}

// Process returns a copy of the named entry.
func (r *Registry) Process(name string) (ProcessEntry, bool) {
	e, ok := r.entries[name]
	if !ok {
		return ProcessEntry{}, false
	}
	return e.clone(), true
}

// HasProcess reports whether a process is registered.
func (r *Registry) HasProcess(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// HasSystematic reports whether a systematic is registered.
func (r *Registry) HasSystematic(name string) bool {
	return r.hasSystematic(name)
}

// Impact returns the impact of a systematic on a process.
func (r *Registry) Impact(process, systematic string) (Impact, error) {
	e, ok := r.entries[process]
	if !ok {
		return NotApplicable, &NotFoundError{Kind: "process", Name: process}
	}
	impact, ok := e.Systematics[systematic]
	if !ok {
		return NotApplicable, &NotFoundError{Kind: "systematic", Name: systematic}
	}
	return impact, nil
}

// IDRange returns the smallest and largest process id (0, 0 when empty).
func (r *Registry) IDRange() (minID, maxID int) {
	return r.minID, r.maxID
}

// NextSignalID returns the id the next signal process should receive.
func (r *Registry) NextSignalID() int {
	next := 0
	found := false
	for _, e := range r.entries {
		if e.ID <= 0 && (!found || e.ID <= next) {
			next = e.ID - 1
			found = true
		}
	}
	return next
}

// NextBackgroundID returns the id the next background process should receive.
func (r *Registry) NextBackgroundID() int {
	if r.maxID > 0 {
		return r.maxID + 1
	}
	return 1
}

// CheckInvariants verifies the registry's structural invariants.
func (r *Registry) CheckInvariants() error {
	if len(r.plist) != len(r.entries) {
		return fmt.Errorf("process list has %d names but registry holds %d entries", len(r.plist), len(r.entries))
	}
	if !sort.StringsAreSorted(r.slist) {
		return fmt.Errorf("systematic list is not sorted")
	}
	ids := make(map[int]string, len(r.entries))
	for i, p := range r.plist {
		e, ok := r.entries[p]
		if !ok {
			return fmt.Errorf("process list names unknown process %q", p)
		}
		if other, dup := ids[e.ID]; dup {
			return &DuplicateEntityError{Kind: "process id", Name: other, ID: e.ID}
		}
		ids[e.ID] = p
		if i > 0 && r.entries[r.plist[i-1]].ID > e.ID {
			return fmt.Errorf("process list is not ordered by id at %q", p)
		}
		if len(e.Systematics) != len(r.slist) {
			return fmt.Errorf("process %q has %d systematics, registry has %d", p, len(e.Systematics), len(r.slist))
		}
		for _, s := range r.slist {
			if _, ok := e.Systematics[s]; !ok {
				return fmt.Errorf("process %q is missing systematic %q", p, s)
			}
		}
	}
	return nil
}

func (r *Registry) hasSystematic(name string) bool {
	_, found := slices.BinarySearch(r.slist, name)
	return found
}

func (r *Registry) insertSystematic(name string) {
	i, found := slices.BinarySearch(r.slist, name)
	if !found {
		r.slist = slices.Insert(r.slist, i, name)
	}
}
