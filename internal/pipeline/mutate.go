package pipeline

import (
	"fmt"
	"slices"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/processes"
)

// Apply runs the configured registry mutations of a channel in order:
// remove, rename, promote, norm systematics, disable, enable.
func Apply(reg *processes.Registry, ch config.ChannelConfig) error {
	for _, p := range ch.Remove {
		if err := reg.RemoveProcess(p); err != nil {
			return fmt.Errorf("remove: %w", err)
		}
	}
	for _, r := range ch.Rename {
		if err := reg.ChangeProcessName(r.From, r.To); err != nil {
			return fmt.Errorf("rename: %w", err)
		}
	}
	for _, p := range ch.Promote {
		if err := reg.PromoteToBackground(p); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
	}
	for _, n := range ch.NormSystematics {
		impacts, err := normImpacts(reg, n)
		if err != nil {
			return err
		}
		if err := reg.AddNormSystematic(n.Name, impacts); err != nil {
			return fmt.Errorf("norm systematic: %w", err)
		}
	}
	for _, d := range ch.Disable {
		if err := reg.DisableSystematic(d.Systematic, d.Processes); err != nil {
			return fmt.Errorf("disable: %w", err)
		}
	}
	for _, e := range ch.Enable {
		value := e.Value
		if value == 0 {
			value = 1
		}
		if err := reg.EnableSystematic(e.Systematic, e.Processes, processes.Applicable(value)); err != nil {
			return fmt.Errorf("enable: %w", err)
		}
	}
	return nil
}

// normImpacts spreads a norm systematic over every registered process.
func normImpacts(reg *processes.Registry, n config.NormSystematicConfig) (map[string]processes.Impact, error) {
	for _, p := range n.Processes {
		if !reg.HasProcess(p) {
			return nil, fmt.Errorf("norm systematic %s: %w", n.Name, &processes.NotFoundError{Kind: "process", Name: p})
		}
	}
	impacts := make(map[string]processes.Impact, reg.Len())
	for _, p := range reg.Processes() {
		if len(n.Processes) == 0 || slices.Contains(n.Processes, p) {
			impacts[p] = processes.Applicable(n.Value)
		} else {
			impacts[p] = processes.NotApplicable
		}
	}
	return impacts, nil
}

// selectSystematics splits the registry's systematics into the shape and
// lnN lists of the card. Norm systematics are lnN, everything else
// extracted is a shape unless excluded.
func selectSystematics(reg *processes.Registry, ch config.ChannelConfig) (shape, lnN []string) {
	for _, n := range ch.NormSystematics {
		lnN = append(lnN, n.Name)
	}
	for _, s := range reg.Systematics() {
		if slices.Contains(lnN, s) || slices.Contains(ch.ShapeExclude, s) {
			continue
		}
		shape = append(shape, s)
	}
	return shape, lnN
}
