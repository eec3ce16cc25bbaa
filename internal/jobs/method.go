package jobs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tzq-analysis/cardgen/internal/fitresult"
	"github.com/tzq-analysis/cardgen/internal/processes"
)

// Fit methods.
const (
	MethodSignificance         = "significance"
	MethodSignificanceObserved = "significance-observed"
	MethodSignalStrength       = "signalstrength"
	MethodMultiPOI             = "multipoi"
)

const multiSignalModel = "HiggsAnalysis.CombinedLimit.PhysicsModel:multiSignalModel"

// Methods lists the supported fit methods.
func Methods() []string {
	return []string{MethodSignificance, MethodSignificanceObserved, MethodSignalStrength, MethodMultiPOI}
}

// ValidMethod reports whether m is a supported method.
func ValidMethod(m string) bool {
	return slices.Contains(Methods(), m)
}

// ModeFor returns the result format a method's log contains.
func ModeFor(method string) fitresult.Mode {
	switch method {
	case MethodSignificance, MethodSignificanceObserved:
		return fitresult.ModeSignificance
	case MethodSignalStrength:
		return fitresult.ModeSignalStrength
	case MethodMultiPOI:
		return fitresult.ModeMultiPOI
	}
	return fitresult.ModeAny
}

// POI is one parameter of interest of a multi-POI fit.
type POI struct {
	Name      string
	Processes []string
	Min       float64
	Max       float64
}

// mapArgs returns the physics-model options mapping each process to its POI.
func (p POI) mapArgs() []string {
	args := make([]string, 0, 2*len(p.Processes))
	for _, proc := range p.Processes {
		args = append(args, "--PO", fmt.Sprintf("map=.*/%s:%s[1,%s,%s]",
			proc, p.Name, processes.FormatNumber(p.Min), processes.FormatNumber(p.Max)))
	}
	return args
}

// methodArgs returns the text2workspace and combine arguments of a method.
func methodArgs(method string, pois []POI) (workspace, combine []string, err error) {
	switch method {
	case MethodSignificance:
		return nil, []string{"-M", "Significance", "-t", "-1", "--expectSignal=1"}, nil
	case MethodSignificanceObserved:
		return nil, []string{"-M", "Significance"}, nil
	case MethodSignalStrength:
		return nil, []string{"-M", "FitDiagnostics", "--robustFit=1"}, nil
	case MethodMultiPOI:
		if len(pois) == 0 {
			return nil, nil, fmt.Errorf("method %s: no parameters of interest configured", method)
		}
		workspace = []string{"-P", multiSignalModel, "--PO", "verbose"}
		names := make([]string, 0, len(pois))
		for _, p := range pois {
			workspace = append(workspace, p.mapArgs()...)
			names = append(names, p.Name)
		}
		combine = []string{"-M", "MultiDimFit", "--algo", "singles", "--redefineSignalPOIs", strings.Join(names, ",")}
		return workspace, combine, nil
	}
	return nil, nil, fmt.Errorf("unknown fit method %q (expected one of %s)", method, strings.Join(Methods(), ", "))
}
