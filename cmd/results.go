package cmd

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/fitresult"
	"github.com/tzq-analysis/cardgen/internal/results"
)

var (
	resultsCard  string
	resultsRun   string
	resultsLimit int
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show stored fit results",
	Long: `Show fit results saved by 'cardgen fit --store' or 'cardgen parse --store'.

Without filters the most recent results are listed, newest first.

Examples:
  cardgen results
  cardgen results --card combo_all.txt
  cardgen results --run 6f1c2f0e-...`,
	Args: cobra.NoArgs,
	RunE: runResults,
}

func init() {
	resultsCmd.Flags().StringVar(&resultsCard, "card", "", "only results of this card")
	resultsCmd.Flags().StringVar(&resultsRun, "run", "", "only results of this run")
	resultsCmd.Flags().IntVarP(&resultsLimit, "limit", "n", 50, "maximum number of results without filters")
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, _ []string) error {
	db, err := openResults()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	var recs []results.Record
	switch {
	case resultsRun != "":
		recs, err = db.ListRun(cmd.Context(), resultsRun)
	case resultsCard != "":
		recs, err = db.ListByCard(cmd.Context(), resultsCard)
	default:
		recs, err = db.Recent(cmd.Context(), resultsLimit)
	}
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no results")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), resultsTable(recs))
	return nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	numberStyle = cellStyle.Align(lipgloss.Right)
)

// resultsTable renders records with numeric columns right-aligned.
func resultsTable(recs []results.Record) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		lo, hi := "", ""
		if r.Mode != fitresult.ModeSignificance {
			lo = "-" + formatValue(r.ErrLow)
			hi = "+" + formatValue(r.ErrHigh)
		}
		rows = append(rows, []string{
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Card,
			string(r.Mode),
			r.POI,
			formatValue(r.Central),
			lo,
			hi,
			shortRunID(r.RunID),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("time", "card", "mode", "poi", "value", "down", "up", "run").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col >= 4 && col <= 6:
				return numberStyle
			default:
				return cellStyle
			}
		}).
		String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
