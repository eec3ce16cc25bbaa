package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/fitresult"
	"github.com/tzq-analysis/cardgen/internal/flags"
	"github.com/tzq-analysis/cardgen/internal/jobs"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/paths"
	"github.com/tzq-analysis/cardgen/internal/results"
)

var (
	fitMethods []string
	fitDryRun  bool
	fitStore   bool
)

var fitCmd = &cobra.Command{
	Use:   "fit [card...]",
	Short: "Write fit job scripts and run or submit them",
	Long: `Write one job script per card and fit method into the output directory
and dispatch them.

Without arguments every channel card and combined card that exists in the
output directory is fitted. With local dispatch the jobs run here and
their logs are parsed once they finish; with scheduler dispatch the
scripts are handed to the configured submit command and can be parsed
later with 'cardgen parse'.

Examples:
  cardgen fit
  cardgen fit combo_all.txt --method multipoi
  cardgen fit --dry-run
  cardgen fit --store`,
	RunE: runFit,
}

func init() {
	fitCmd.Flags().StringSliceVarP(&fitMethods, "method", "m", nil,
		"fit methods (default: jobs.methods from config)")
	fitCmd.Flags().BoolVar(&fitDryRun, "dry-run", false, "write the scripts without running them")
	fitCmd.Flags().BoolVar(&fitStore, "store", false, "save parsed results in the results database")
	rootCmd.AddCommand(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close(cmd.Context())

	jc := e.cfg.Jobs
	if len(fitMethods) > 0 {
		jc.Methods = fitMethods
		if err := config.ValidateJobs(jc); err != nil {
			return err
		}
	}
	opts := e.cfg.JobOptions()
	opts.Methods = jc.Methods

	dir := e.outputDir()
	cards := args
	if len(cards) == 0 {
		cards = existingCards(dir, e.cfg)
		if len(cards) == 0 {
			return fmt.Errorf("no cards in %s, run 'cardgen generate' first", dir)
		}
	}

	planned, err := jobs.Plan(dir, cards, opts)
	if err != nil {
		return err
	}
	if err := jobs.WriteScripts(planned, opts); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if fitDryRun {
		for _, j := range planned {
			fmt.Fprintln(out, relativeTo(dir, j.Script))
		}
		return nil
	}

	var d jobs.Dispatcher = jobs.NewLocalDispatcher(e.runner)
	if jc.Dispatch == jobs.DispatchScheduler {
		d, err = jobs.NewSchedulerDispatcher(e.runner, jc.Submit)
		if err != nil {
			return err
		}
	}
	keepGoing := e.flags.Enabled(flags.FlagKeepGoing)
	dispatchErr := jobs.DispatchAll(cmd.Context(), d, planned, jobs.DispatchOptions{
		Limit:     e.cfg.Concurrency,
		KeepGoing: keepGoing,
		Tracer:    e.tracing.Tracer(),
	})
	if dispatchErr != nil && !keepGoing {
		return dispatchErr
	}

	if jc.Dispatch == jobs.DispatchScheduler {
		fmt.Fprintf(out, "submitted %d jobs\n", len(planned))
		return dispatchErr
	}

	records := collectResults(out, planned, poiNames(e.cfg.Jobs.POIs))
	if fitStore {
		if err := storeRecords(cmd, records); err != nil {
			return err
		}
	}
	if dispatchErr != nil {
		log.Warn(log.CatJobs, "some fits failed", "error", dispatchErr)
	}
	return nil
}

// existingCards lists the configured channel and combined cards present in dir.
func existingCards(dir string, c config.Config) []string {
	var cards []string
	for _, ch := range c.Channels {
		cards = append(cards, paths.CardFileName(ch.Name))
	}
	for _, combo := range c.Combinations {
		cards = append(cards, combo.Name)
	}

	present := cards[:0]
	for _, card := range cards {
		if fileExists(filepath.Join(dir, card)) {
			present = append(present, card)
		} else {
			log.Debug(log.CatJobs, "card not written, not fitting", "card", card)
		}
	}
	return present
}

func poiNames(pois []config.POIConfig) []string {
	names := make([]string, 0, len(pois))
	for _, p := range pois {
		names = append(names, p.Name)
	}
	return names
}

// collectResults parses the log of every job and prints one line per result.
func collectResults(out io.Writer, planned []jobs.Job, pois []string) []*results.Record {
	runID := results.NewRunID()
	var records []*results.Record
	for _, j := range planned {
		var names []string
		if j.Mode() == fitresult.ModeMultiPOI {
			names = pois
		}
		parsed, err := fitresult.ParseFile(j.Log, j.Mode(), names...)
		if err != nil {
			fmt.Fprintf(out, "%-24s %-22s %v\n", j.Card, j.Method, err)
			continue
		}
		for _, r := range parsed {
			fmt.Fprintf(out, "%-24s %-22s %s\n", j.Card, j.Method, r)
			rec := results.NewRecord(runID, j.Card, j.Log, r)
			records = append(records, &rec)
		}
	}
	return records
}

func storeRecords(cmd *cobra.Command, records []*results.Record) error {
	if len(records) == 0 {
		return nil
	}
	db, err := openResults()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.Save(cmd.Context(), records...); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d results (run %s)\n", len(records), records[0].RunID)
	return nil
}
