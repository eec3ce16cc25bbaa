package cmd

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/flags"
)

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "List feature flags",
	Long: `List the feature flags and their values from the config file.

Known flags:
  require-down-variation  an Up variation without Down partner is an error
  observation-from-data   write the data integral as observation instead of -1
  keep-going              failed channels and jobs become warnings`,
	Args: cobra.NoArgs,
	RunE: runFlagsList,
}

var flagsSetCmd = &cobra.Command{
	Use:   "set <flag> <true|false>",
	Short: "Set a feature flag in the config file",
	Long: `Set a feature flag in the config file. Comments and the other sections
of the file are kept.

Examples:
  cardgen flags set keep-going true
  cardgen flags set observation-from-data false`,
	Args: cobra.ExactArgs(2),
	RunE: runFlagsSet,
}

func init() {
	flagsCmd.AddCommand(flagsSetCmd)
	rootCmd.AddCommand(flagsCmd)
}

func runFlagsList(cmd *cobra.Command, _ []string) error {
	if configErr != nil {
		return configErr
	}
	all := flags.New(cfg.Flags).All()
	names := make([]string, 0, len(all))
	for n := range all {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		fmt.Fprintf(cmd.OutOrStdout(), "%-24s %t\n", n, all[n])
	}
	return nil
}

func runFlagsSet(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}
	name := args[0]
	if !slices.Contains(flags.Known(), name) {
		return fmt.Errorf("unknown flag %q (known: %v)", name, flags.Known())
	}
	value, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("flag value must be true or false, got %q", args[1])
	}

	updated := flags.New(cfg.Flags).With(name, value).All()
	if err := config.SaveFlags(configPath(), updated); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %t (%s)\n", name, value, configPath())
	return nil
}
