package processes

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyName is returned when a process or systematic has no name.
	ErrEmptyName = errors.New("empty name")

	// ErrNegativeYield is returned when a process is added with a negative yield.
	ErrNegativeYield = errors.New("negative yield")
)

// DuplicateEntityError is returned when an insert collides with an existing
// process name, process id or systematic name.
type DuplicateEntityError struct {
	Kind string // "process", "process id" or "systematic"
	Name string
	ID   int
}

func (e *DuplicateEntityError) Error() string {
	if e.Kind == "process id" {
		return fmt.Sprintf("duplicate process id %d (process %q)", e.ID, e.Name)
	}
	return fmt.Sprintf("duplicate %s %q", e.Kind, e.Name)
}

// SchemaMismatchError is returned when a normalization systematic does not
// specify exactly one impact per registered process.
type SchemaMismatchError struct {
	Systematic string
	Missing    []string // registered processes without an impact
	Extra      []string // impacts for processes that are not registered
}

func (e *SchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing processes ["+strings.Join(e.Missing, ", ")+"]")
	}
	if len(e.Extra) > 0 {
		parts = append(parts, "unknown processes ["+strings.Join(e.Extra, ", ")+"]")
	}
	return fmt.Sprintf("systematic %q: impacts do not match registered processes: %s",
		e.Systematic, strings.Join(parts, "; "))
}

// NotFoundError is returned when a referenced process or systematic is absent.
type NotFoundError struct {
	Kind string // "process" or "systematic"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}
