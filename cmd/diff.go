package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/paths"
)

// errCardsDiffer makes 'cardgen diff' exit nonzero when a card is stale.
var errCardsDiffer = errors.New("cards differ from their inputs")

var diffCmd = &cobra.Command{
	Use:   "diff [channel...]",
	Short: "Compare written cards with freshly generated ones",
	Long: `Regenerate the card of each channel in memory and compare it with the
card in the output directory. Nothing is written.

Exits nonzero when a card is missing or differs, so it can guard a
stale card in scripts.

Examples:
  cardgen diff
  cardgen diff 3l`,
	RunE: runDiff,
}

func init() {
	rootCmd.AddCommand(diffCmd)
}

func runDiff(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close(cmd.Context())

	channels, err := e.channels(args)
	if err != nil {
		return err
	}

	p := e.pipeline()
	dir := e.outputDir()
	out := cmd.OutOrStdout()
	stale := 0
	for _, ch := range channels {
		fresh, err := p.Render(cmd.Context(), dir, ch)
		if err != nil {
			return err
		}
		card := paths.CardFile(dir, ch.Name)
		old, err := os.ReadFile(card)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			stale++
			fmt.Fprintf(out, "%s: not written\n", card)
			continue
		case err != nil:
			return fmt.Errorf("read card: %w", err)
		}

		lines := cardDiff(string(old), string(fresh))
		if len(lines) == 0 {
			fmt.Fprintf(out, "%s: up to date\n", card)
			continue
		}
		stale++
		fmt.Fprintf(out, "--- %s\n+++ %s (regenerated)\n", card, ch.Name)
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}
	}
	if stale > 0 {
		return fmt.Errorf("%d of %d: %w", stale, len(channels), errCardsDiffer)
	}
	return nil
}

// cardDiff returns the changed lines between two cards, prefixed with "-"
// for removed and "+" for added lines. Equal cards give no lines.
func cardDiff(oldText, newText string) []string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var out []string
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			out = append(out, prefix+strings.TrimSuffix(l, "\n"))
		}
	}
	return out
}
