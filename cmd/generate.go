package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/combine"
)

var generateCombine bool

var generateCmd = &cobra.Command{
	Use:   "generate [channel...]",
	Short: "Write the datacard of every configured channel",
	Long: `Write one datacard per channel into the output directory.

For each channel the input histogram files are merged with hadd (when
inputs are configured), processes and systematics are read from the
histogram names, the configured mutations are applied and the card is
written as datacard_<channel>.txt.

Channels run concurrently. A failing channel stops the run unless
--keep-going (or the keep-going flag) is set.

Examples:
  cardgen generate
  cardgen generate 3l 4l
  cardgen generate --combine --keep-going`,
	RunE: runGenerate,
}

func init() {
	generateCmd.Flags().BoolVar(&generateCombine, "combine", false, "also write the configured combinations")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close(cmd.Context())

	channels, err := e.channels(args)
	if err != nil {
		return err
	}
	dir := e.outputDir()
	if err := ensureDir(dir); err != nil {
		return err
	}

	res, err := e.pipeline().Generate(cmd.Context(), dir, channels)
	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range res {
		switch {
		case r.Err != nil:
			failed++
			fmt.Fprintf(out, "FAIL  %-12s %v\n", r.Channel, r.Err)
		case r.Card != "":
			fmt.Fprintf(out, "ok    %-12s %s (%d processes, %d systematics)\n",
				r.Channel, r.Card, r.Processes, r.Systematics)
		}
	}
	if err != nil {
		return err
	}

	if generateCombine {
		if _, err := combine.New(e.fitEngine()).Combine(cmd.Context(), dir, e.cfg.CombineSpec()); err != nil {
			return err
		}
	}
	if failed > 0 {
		fmt.Fprintf(out, "%d of %d channels failed\n", failed, len(res))
	}
	return nil
}
