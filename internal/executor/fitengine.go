package executor

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Tools names the fit engine binaries.
type Tools struct {
	CombineCards   string `mapstructure:"combine_cards"`
	Text2Workspace string `mapstructure:"text2workspace"`
	Combine        string `mapstructure:"combine"`
	Hadd           string `mapstructure:"hadd"`
}

// DefaultTools returns the binary names the fit engine installs.
func DefaultTools() Tools {
	return Tools{
		CombineCards:   "combineCards.py",
		Text2Workspace: "text2workspace.py",
		Combine:        "combine",
		Hadd:           "hadd",
	}
}

// LabeledCard is one elementary card in a combination, with the channel
// label the combined card uses for it.
type LabeledCard struct {
	Label string
	Card  string
}

// FitEngine wraps the fit engine tools.
type FitEngine struct {
	runner Runner
	tools  Tools
}

// WithDefaults returns t with empty tool names set to their defaults.
func (t Tools) WithDefaults() Tools {
	def := DefaultTools()
	t.CombineCards = cmp.Or(t.CombineCards, def.CombineCards)
	t.Text2Workspace = cmp.Or(t.Text2Workspace, def.Text2Workspace)
	t.Combine = cmp.Or(t.Combine, def.Combine)
	t.Hadd = cmp.Or(t.Hadd, def.Hadd)
	return t
}

// NewFitEngine returns a FitEngine. Empty tool names fall back to defaults.
func NewFitEngine(runner Runner, tools Tools) *FitEngine {
	return &FitEngine{runner: runner, tools: tools.WithDefaults()}
}

// Tools returns the configured binary names.
func (f *FitEngine) Tools() Tools {
	return f.tools
}

// CombineCards runs combineCards.py in dir and writes its output to
// dir/output. Card paths are relative to dir. output is only replaced when
// the tool succeeds.
func (f *FitEngine) CombineCards(ctx context.Context, dir, output string, cards []LabeledCard) error {
	args := make([]string, 0, len(cards))
	for _, c := range cards {
		args = append(args, c.Label+"="+c.Card)
	}

	var out bytes.Buffer
	_, err := RunChecked(ctx, f.runner, Command{Name: f.tools.CombineCards, Args: args, Dir: dir, Stdout: &out})
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, output), out.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write combined card: %w", err)
	}
	return nil
}

// Text2Workspace builds workspace from card.
func (f *FitEngine) Text2Workspace(ctx context.Context, card, workspace string, extraArgs ...string) error {
	args := append([]string{card, "-o", workspace}, extraArgs...)
	_, err := RunChecked(ctx, f.runner, Command{Name: f.tools.Text2Workspace, Args: args})
	return err
}

// Combine runs the fit engine with args and returns its output.
func (f *FitEngine) Combine(ctx context.Context, dir string, args ...string) (Result, error) {
	return RunChecked(ctx, f.runner, Command{Name: f.tools.Combine, Args: args, Dir: dir})
}

// Hadd merges histogram files into target, replacing it.
func (f *FitEngine) Hadd(ctx context.Context, target string, inputs ...string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("hadd %s: no input files", target)
	}
	args := append([]string{"-f", target}, inputs...)
	_, err := RunChecked(ctx, f.runner, Command{Name: f.tools.Hadd, Args: args})
	return err
}
