package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tzq-analysis/cardgen/internal/config"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/watcher"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch [channel...]",
	Short: "Regenerate cards whenever the config or histogram files change",
	Long: `Generate the cards once, then watch the config file and the histogram
files of the channels and regenerate on every change until interrupted.

Channels with inputs are watched through their inputs, since merging them
rewrites the histogram file.

Examples:
  cardgen watch
  cardgen watch 3l --debounce 2s`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "quiet period before regenerating")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(cmd)
	if err != nil {
		return err
	}
	defer e.Close(context.WithoutCancel(ctx))

	channels, err := e.channels(args)
	if err != nil {
		return err
	}

	wcfg := watcher.DefaultConfig(watchedFiles(configPath(), e.outputDir(), channels)...)
	wcfg.DebounceDur = watchDebounce
	w, err := watcher.New(wcfg)
	if err != nil {
		return err
	}
	changes, err := w.Start()
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	out := cmd.OutOrStdout()
	regenerate := func() {
		if err := ensureDir(e.outputDir()); err != nil {
			fmt.Fprintln(out, err)
			return
		}
		res, err := e.pipeline().Generate(ctx, e.outputDir(), channels)
		if err != nil {
			fmt.Fprintf(out, "%s generation failed: %v\n", time.Now().Format(time.TimeOnly), err)
			return
		}
		fmt.Fprintf(out, "%s wrote %d cards\n", time.Now().Format(time.TimeOnly), len(res))
	}

	regenerate()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changes:
			if reloaded, err := reloadConfig(); err != nil {
				log.Warn(log.CatWatch, "config reload failed, keeping previous config", "error", err)
			} else {
				e.cfg = reloaded
				e.flags = buildFlags(cmd, reloaded.Flags)
				selected, err := e.channels(args)
				if err != nil {
					log.Warn(log.CatWatch, "channel selection failed", "error", err)
					continue
				}
				channels = selected
			}
			regenerate()
		}
	}
}

// watchedFiles lists the config file and the files each channel reads.
func watchedFiles(cfgPath, dir string, channels []config.ChannelConfig) []string {
	files := []string{cfgPath}
	for _, ch := range channels {
		if len(ch.Inputs) == 0 {
			files = append(files, joinDir(dir, ch.HistogramFile))
			continue
		}
		for _, in := range ch.Inputs {
			files = append(files, joinDir(dir, in))
		}
	}
	return files
}

func joinDir(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// reloadConfig rereads the config file into a fresh Config.
func reloadConfig() (config.Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		return config.Config{}, err
	}
	var c config.Config
	if err := viper.Unmarshal(&c); err != nil {
		return config.Config{}, err
	}
	if err := c.Validate(); err != nil {
		return config.Config{}, err
	}
	return c, nil
}
