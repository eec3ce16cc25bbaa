package datacard

import (
	"errors"
	"fmt"
)

// ErrEmptyRegistry is returned when a card would describe no processes.
var ErrEmptyRegistry = errors.New("registry has no processes")

// MissingHistogramFileError is returned when the histogram file a card
// references does not exist at write time.
type MissingHistogramFileError struct {
	Path string
}

func (e *MissingHistogramFileError) Error() string {
	return fmt.Sprintf("histogram file %s does not exist", e.Path)
}

// UnknownProcessError is returned when a rate parameter or ratio constraint
// names a process that is not in the registry.
type UnknownProcessError struct {
	Name string
	Role string // "rate parameter", "ratio numerator" or "ratio denominator"
}

func (e *UnknownProcessError) Error() string {
	return fmt.Sprintf("%s process %q is not in the registry", e.Role, e.Name)
}

// InvalidConstraintError is returned for a malformed ratio or rate-parameter
// request, or an inconsistent systematic selection.
type InvalidConstraintError struct {
	Name   string
	Reason string
}

func (e *InvalidConstraintError) Error() string {
	if e.Name == "" {
		return "invalid constraint: " + e.Reason
	}
	return fmt.Sprintf("invalid constraint %q: %s", e.Name, e.Reason)
}
