package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/fitresult"
	"github.com/tzq-analysis/cardgen/internal/jobs"
	"github.com/tzq-analysis/cardgen/internal/results"
)

var (
	parseMode  string
	parsePOIs  []string
	parseCard  string
	parseStore bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <log>...",
	Short: "Read fit results from fit engine logs",
	Long: `Read the significance, best-fit signal strength or per-POI results
from fit engine logs.

--mode any tries significance, then signal strength, then a multi-POI
line for r. For multipoi logs --poi selects the parameters; without it
every parameter in the log is reported.

Examples:
  cardgen parse cards/datacard_3l_significance.log
  cardgen parse --mode multipoi --poi r_tZq --poi r_ttZ combo_all_multipoi.log
  cardgen parse --store --card combo_all.txt combo_all_signalstrength.log`,
	Args: cobra.MinimumNArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().StringVarP(&parseMode, "mode", "m", string(fitresult.ModeAny),
		"result format: significance, signalstrength, multipoi, any")
	parseCmd.Flags().StringArrayVar(&parsePOIs, "poi", nil, "parameter of interest for multipoi logs (repeatable)")
	parseCmd.Flags().StringVar(&parseCard, "card", "", "card the results belong to (default: derived from the job log name)")
	parseCmd.Flags().BoolVar(&parseStore, "store", false, "save the results in the results database")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	mode, err := fitresult.ParseMode(parseMode)
	if err != nil {
		return err
	}

	runID := results.NewRunID()
	var records []*results.Record
	out := cmd.OutOrStdout()
	for _, path := range args {
		parsed, err := fitresult.ParseFile(path, mode, parsePOIs...)
		if err != nil {
			return err
		}
		card := parseCard
		if card == "" {
			card = cardFromLog(path)
		}
		for _, r := range parsed {
			fmt.Fprintf(out, "%s: %s\n", path, r)
			rec := results.NewRecord(runID, card, path, r)
			records = append(records, &rec)
		}
	}

	if parseStore {
		return storeRecords(cmd, records)
	}
	return nil
}

// cardFromLog recovers the card of a job log named <card>_<method>.log.
// Other names are used as they are.
func cardFromLog(path string) string {
	base := filepath.Base(path)
	for _, m := range jobs.Methods() {
		if stem, ok := strings.CutSuffix(base, "_"+m+".log"); ok && stem != "" {
			return stem + ".txt"
		}
	}
	return base
}
