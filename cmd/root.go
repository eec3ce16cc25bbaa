package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/paths"
)

const configFileName = "config.yaml"

var (
	version    = "dev"
	cfgFile    string
	projectDir string
	debugFlag  bool
	logFile    string
	cfg        config.Config
	// configErr is a config file that exists but could not be read.
	// Commands that need the config report it.
	configErr  error
	logCleanup func()
)

var rootCmd = &cobra.Command{
	Use:   "cardgen",
	Short: "Statistical datacards for the tZq analysis",
	Long: `cardgen turns histogram files into datacards for the fit engine,
combines them, runs fits and keeps the parsed results.

A typical session:
  cardgen init                 # create .cardgen/config.yaml
  cardgen generate             # one datacard per configured channel
  cardgen combine              # configured combinations
  cardgen fit --store          # run fits and save the results
  cardgen results              # show saved results`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

func init() {
	cobra.OnInitialize(initConfig)
	cobra.OnFinalize(closeLogging)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .cardgen/config.yaml, then ~/.config/cardgen/config.yaml)")
	pf.StringVarP(&projectDir, "project", "p", "",
		"analysis directory holding .cardgen (default: current directory)")
	pf.BoolVarP(&debugFlag, "debug", "d", false, "enable debug logging")
	pf.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	pf.Bool("keep-going", false, "continue past failing channels and jobs")
	pf.StringP("output", "o", "", "output directory (overrides output_dir)")
}

func initConfig() {
	_ = viper.BindPFlag("output_dir", rootCmd.PersistentFlags().Lookup("output"))

	defaults := config.Defaults()
	viper.SetDefault("output_dir", defaults.OutputDir)
	viper.SetDefault("concurrency", defaults.Concurrency)
	viper.SetDefault("tools.combine_cards", defaults.Tools.CombineCards)
	viper.SetDefault("tools.text2workspace", defaults.Tools.Text2Workspace)
	viper.SetDefault("tools.combine", defaults.Tools.Combine)
	viper.SetDefault("tools.hadd", defaults.Tools.Hadd)
	viper.SetDefault("jobs.methods", defaults.Jobs.Methods)
	viper.SetDefault("jobs.dispatch", defaults.Jobs.Dispatch)
	viper.SetDefault("cache.ttl", defaults.Cache.TTL)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("flags", defaults.Flags)

	viper.SetEnvPrefix("CARDGEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Config lookup order:
	// 1. --config
	// 2. .cardgen/config.yaml (project directory)
	// 3. ~/.config/cardgen/config.yaml (user config)
	localConfig := filepath.Join(paths.ResolveProjectDir(projectDir), configFileName)
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case fileExists(localConfig):
		viper.SetConfigFile(localConfig)
	default:
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(filepath.Join(home, ".config", "cardgen"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	configErr = nil
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			// No config file anywhere: create the default in the project directory.
			if writeErr := config.WriteDefaultConfig(localConfig); writeErr == nil {
				viper.SetConfigFile(localConfig)
				_ = viper.ReadInConfig()
			}
		} else {
			configErr = fmt.Errorf("reading config %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	cfg = config.Config{}
	if err := viper.Unmarshal(&cfg); err != nil && configErr == nil {
		configErr = fmt.Errorf("decoding config: %w", err)
	}
}

// configPath is the file config changes are saved to.
func configPath() string {
	if p := viper.ConfigFileUsed(); p != "" {
		return p
	}
	return filepath.Join(paths.ResolveProjectDir(projectDir), configFileName)
}

func initLogging(cmd *cobra.Command, _ []string) error {
	level := log.LevelWarn
	if debugFlag || os.Getenv("CARDGEN_DEBUG") != "" {
		level = log.LevelDebug
	}
	if logFile == "" {
		log.Init(cmd.ErrOrStderr(), level)
		return nil
	}
	cleanup, err := log.InitFile(logFile, level)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	logCleanup = cleanup
	log.Debug(log.CatConfig, "cardgen starting", "version", version, "config", viper.ConfigFileUsed())
	return nil
}

func closeLogging() {
	if logCleanup != nil {
		logCleanup()
		logCleanup = nil
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
