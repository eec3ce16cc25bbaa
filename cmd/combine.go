package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tzq-analysis/cardgen/internal/combine"
	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/tracing"
)

var (
	combineSpecFile string
	combineSave     bool
)

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Merge elementary datacards into combined cards",
	Long: `Write every configured combination with the card combination tool.

Combinations come from the combinations section of the config, or from a
YAML file given with --spec that maps each combined card to its cards and
channel labels:

  combo_all.txt:
    datacard_3l.txt: threelep
    datacard_4l.txt: fourlep

Combinations without cards, or naming a card that has not been written,
are skipped with a warning.

Examples:
  cardgen combine
  cardgen combine --spec combinations.yaml
  cardgen combine --spec combinations.yaml --save`,
	Args: cobra.NoArgs,
	RunE: runCombine,
}

func init() {
	combineCmd.Flags().StringVarP(&combineSpecFile, "spec", "s", "", "YAML combination file (default: config combinations)")
	combineCmd.Flags().BoolVar(&combineSave, "save", false, "store the --spec combinations in the config file")
	rootCmd.AddCommand(combineCmd)
}

func runCombine(cmd *cobra.Command, _ []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close(cmd.Context())

	spec := e.cfg.CombineSpec()
	if combineSpecFile != "" {
		spec, err = combine.LoadSpec(combineSpecFile)
		if err != nil {
			return err
		}
		if combineSave {
			if err := config.SaveCombinations(configPath(), specCombinations(spec)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d combinations to %s\n", len(spec), configPath())
		}
	}
	if len(spec) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no combinations configured")
		return nil
	}

	ctx, span := tracing.Start(cmd.Context(), e.tracing.Tracer(), tracing.SpanCombine,
		attribute.Int("cardgen.combinations", len(spec)))
	written, err := combine.New(e.fitEngine()).Combine(ctx, e.outputDir(), spec)
	tracing.End(span, err)
	for _, name := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", name)
	}
	return err
}

// specCombinations converts a combination file to the config layout, in
// name and label order.
func specCombinations(spec combine.Spec) []config.CombinationConfig {
	names := make([]string, 0, len(spec))
	for n := range spec {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]config.CombinationConfig, 0, len(spec))
	for _, n := range names {
		combo := config.CombinationConfig{Name: n}
		for card, label := range spec[n] {
			combo.Cards = append(combo.Cards, config.CardLabelConfig{Card: card, Label: label})
		}
		sort.Slice(combo.Cards, func(i, j int) bool { return combo.Cards[i].Label < combo.Cards[j].Label })
		out = append(out, combo)
	}
	return out
}
