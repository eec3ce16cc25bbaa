package fitresult

import "fmt"

// AmbiguousResultError is returned when a pattern that must match exactly
// one line matches none or several.
type AmbiguousResultError struct {
	Path    string
	Pattern string
	Count   int
}

func (e *AmbiguousResultError) Error() string {
	where := "fit log"
	if e.Path != "" {
		where = e.Path
	}
	return fmt.Sprintf("%s: expected exactly one %q result, found %d", where, e.Pattern, e.Count)
}

// UpstreamFitFailure is returned when the fit engine reports a failed fit.
type UpstreamFitFailure struct {
	Path string
	Line int
}

func (e *UpstreamFitFailure) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("fit failed (log line %d)", e.Line)
	}
	return fmt.Sprintf("%s: fit failed (line %d)", e.Path, e.Line)
}
