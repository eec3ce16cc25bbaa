package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/paths"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the project directory, default config and results database",
	Long: `Create .cardgen/ in the analysis directory with a commented default
config.yaml and an empty results database.

An existing config is left alone unless --force is given.

Examples:
  cardgen init
  cardgen init --project ~/analysis/tzq
  cardgen init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config with the defaults")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	dir := paths.ResolveProjectDir(projectDir)
	target := cfgFile
	if target == "" {
		target = filepath.Join(dir, configFileName)
	}

	out := cmd.OutOrStdout()
	if fileExists(target) && !initForce {
		fmt.Fprintf(out, "config exists: %s\n", target)
	} else {
		if err := config.WriteDefaultConfig(target); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote config: %s\n", target)
	}

	db, err := openResults()
	if err != nil {
		return err
	}
	if err := db.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "results database: %s\n", paths.ResultsDB(dir))
	return nil
}
