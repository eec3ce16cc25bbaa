package extract

import "fmt"

// MissingHistogramError is returned when a histogram the naming convention
// requires is absent from the file.
type MissingHistogramError struct {
	File string
	Name string
}

func (e *MissingHistogramError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("histogram %q not found", e.Name)
	}
	return fmt.Sprintf("histogram %q not found in %s", e.Name, e.File)
}
