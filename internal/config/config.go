// Package config provides configuration types and defaults for cardgen.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/flags"
	"github.com/tzq-analysis/cardgen/internal/jobs"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/tracing"
)

// Config holds all configuration options for cardgen.
type Config struct {
	// OutputDir receives cards, combined cards, job scripts and fit logs.
	OutputDir    string              `mapstructure:"output_dir"`
	Concurrency  int                 `mapstructure:"concurrency"`
	Channels     []ChannelConfig     `mapstructure:"channels"`
	Combinations []CombinationConfig `mapstructure:"combinations"`
	Tools        executor.Tools      `mapstructure:"tools"`
	Jobs         JobsConfig          `mapstructure:"jobs"`
	Cache        CacheConfig         `mapstructure:"cache"`
	Tracing      tracing.Config      `mapstructure:"tracing"`
	Flags        map[string]bool     `mapstructure:"flags"`
}

// ChannelConfig describes one elementary card and the mutations applied
// to its registry before writing.
type ChannelConfig struct {
	Name     string `mapstructure:"name"`
	Variable string `mapstructure:"variable"`

	// HistogramFile is the merged histogram file the card points at.
	HistogramFile string `mapstructure:"histogram_file"`

	// Inputs, when set, are merged into HistogramFile with hadd first.
	Inputs []string `mapstructure:"inputs"`

	SignalTags []string `mapstructure:"signal_tags"`
	DataTag    string   `mapstructure:"data_tag"`

	// Exclude lists systematic sources ignored during extraction.
	Exclude []string `mapstructure:"exclude"`

	Remove          []string               `mapstructure:"remove"`
	Rename          []RenameConfig         `mapstructure:"rename"`
	Promote         []string               `mapstructure:"promote"`
	NormSystematics []NormSystematicConfig `mapstructure:"norm_systematics"`
	Disable         []SystematicScope      `mapstructure:"disable"`
	Enable          []SystematicScope      `mapstructure:"enable"`

	// ShapeExclude drops extracted systematics from the card without
	// removing them from the registry.
	ShapeExclude []string     `mapstructure:"shape_exclude"`
	RateParams   []string     `mapstructure:"rate_params"`
	Ratio        *RatioConfig `mapstructure:"ratio"`
	AutoMCStats  float64      `mapstructure:"auto_mc_stats"`
}

// RenameConfig renames one process.
type RenameConfig struct {
	From string `mapstructure:"from"`
	To   string `mapstructure:"to"`
}

// NormSystematicConfig adds an lnN systematic of magnitude Value to
// Processes (all processes when empty). Other processes get "-".
type NormSystematicConfig struct {
	Name      string   `mapstructure:"name"`
	Value     float64  `mapstructure:"value"`
	Processes []string `mapstructure:"processes"`
}

// SystematicScope applies to Enable and Disable. Value is only read by
// Enable and defaults to 1.
type SystematicScope struct {
	Systematic string   `mapstructure:"systematic"`
	Processes  []string `mapstructure:"processes"`
	Value      float64  `mapstructure:"value"`
}

// RatioConfig ties processes to one rate parameter.
type RatioConfig struct {
	Name        string `mapstructure:"name"`
	Numerator   string `mapstructure:"numerator"`
	Denominator string `mapstructure:"denominator"`
}

// CombinationConfig is one combined card. Cards are card file names
// relative to the output directory.
type CombinationConfig struct {
	Name  string            `mapstructure:"name"`
	Cards []CardLabelConfig `mapstructure:"cards"`
}

// CardLabelConfig assigns a channel label to a card in a combination.
type CardLabelConfig struct {
	Card  string `mapstructure:"card"`
	Label string `mapstructure:"label"`
}

// JobsConfig controls fit job scripts and their dispatch.
type JobsConfig struct {
	// Methods run per card: significance, significance-observed,
	// signalstrength, multipoi.
	Methods []string `mapstructure:"methods"`

	// Dispatch is "local" or "scheduler".
	Dispatch string `mapstructure:"dispatch"`

	// Submit is the scheduler command; the script path is appended.
	Submit []string `mapstructure:"submit"`

	// Setup lines run at the top of every script.
	Setup []string `mapstructure:"setup"`

	// POIs map processes to parameters of interest for multipoi fits.
	POIs []POIConfig `mapstructure:"pois"`

	// Timeout bounds each local job; zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// POIConfig is one parameter of interest of a multi-POI fit.
type POIConfig struct {
	Name      string   `mapstructure:"name"`
	Processes []string `mapstructure:"processes"`
	Min       float64  `mapstructure:"min"`
	Max       float64  `mapstructure:"max"`
}

// CacheConfig controls the histogram metadata cache.
type CacheConfig struct {
	// TTL of cached listings and integrals; zero disables the cache.
	TTL time.Duration `mapstructure:"ttl"`
}

// JobOptions converts the jobs section to jobs.Options.
func (c Config) JobOptions() jobs.Options {
	pois := make([]jobs.POI, 0, len(c.Jobs.POIs))
	for _, p := range c.Jobs.POIs {
		pois = append(pois, jobs.POI(p))
	}
	return jobs.Options{
		Tools:   c.Tools,
		Methods: c.Jobs.Methods,
		POIs:    pois,
		Setup:   c.Jobs.Setup,
	}
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cardgen", "traces", "traces.jsonl")
}

// Defaults returns a Config with default values.
func Defaults() Config {
	tc := tracing.DefaultConfig()
	tc.FilePath = DefaultTracesFilePath()
	return Config{
		OutputDir:   "cards",
		Concurrency: 4,
		Tools:       executor.DefaultTools(),
		Jobs: JobsConfig{
			Methods:  []string{jobs.MethodSignificance, jobs.MethodSignalStrength},
			Dispatch: jobs.DispatchLocal,
		},
		Cache:   CacheConfig{TTL: 10 * time.Minute},
		Tracing: tc,
		Flags: map[string]bool{
			flags.FlagRequireDownVariation: false,
			flags.FlagObservationFromData:  false,
			flags.FlagKeepGoing:            false,
		},
	}
}

// Validate checks the whole configuration.
func (c Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", c.Concurrency)
	}
	if err := ValidateChannels(c.Channels); err != nil {
		return err
	}
	if err := ValidateCombinations(c.Combinations); err != nil {
		return err
	}
	if err := ValidateJobs(c.Jobs); err != nil {
		return err
	}
	return c.Tracing.Validate()
}

// ValidateChannels checks channel configurations for errors.
func ValidateChannels(channels []ChannelConfig) error {
	seen := make(map[string]bool, len(channels))
	merged := make(map[string]ChannelConfig)
	for i, ch := range channels {
		switch {
		case ch.Name == "":
			return fmt.Errorf("channels[%d]: name is required", i)
		case seen[ch.Name]:
			return fmt.Errorf("channels[%d]: duplicate channel %q", i, ch.Name)
		case ch.Variable == "":
			return fmt.Errorf("channel %s: variable is required", ch.Name)
		case ch.HistogramFile == "":
			return fmt.Errorf("channel %s: histogram_file is required", ch.Name)
		case ch.AutoMCStats < 0:
			return fmt.Errorf("channel %s: auto_mc_stats must not be negative", ch.Name)
		}
		seen[ch.Name] = true

		if len(ch.Inputs) > 0 {
			if other, ok := merged[ch.HistogramFile]; ok && !slices.Equal(other.Inputs, ch.Inputs) {
				return fmt.Errorf("channel %s: histogram_file %s is merged from different inputs by channel %s",
					ch.Name, ch.HistogramFile, other.Name)
			}
			merged[ch.HistogramFile] = ch
		}

		for _, r := range ch.Rename {
			if r.From == "" || r.To == "" {
				return fmt.Errorf("channel %s: rename needs from and to", ch.Name)
			}
		}
		for _, n := range ch.NormSystematics {
			if n.Name == "" {
				return fmt.Errorf("channel %s: norm systematic without name", ch.Name)
			}
			if n.Value <= 0 {
				return fmt.Errorf("channel %s: norm systematic %s needs a positive value", ch.Name, n.Name)
			}
		}
		for _, s := range slices.Concat(ch.Enable, ch.Disable) {
			if s.Systematic == "" || len(s.Processes) == 0 {
				return fmt.Errorf("channel %s: enable/disable entries need a systematic and processes", ch.Name)
			}
		}
		if ch.Ratio != nil && (ch.Ratio.Name == "" || ch.Ratio.Numerator == "") {
			return fmt.Errorf("channel %s: ratio needs a name and a numerator", ch.Name)
		}
	}
	return nil
}

// ValidateCombinations checks combined-card configurations for errors.
// Combinations without cards are allowed; they are skipped with a warning.
func ValidateCombinations(combos []CombinationConfig) error {
	seen := make(map[string]bool, len(combos))
	for i, c := range combos {
		if c.Name == "" {
			return fmt.Errorf("combinations[%d]: name is required", i)
		}
		if seen[c.Name] {
			return fmt.Errorf("combinations[%d]: duplicate combination %q", i, c.Name)
		}
		seen[c.Name] = true
		for _, card := range c.Cards {
			if card.Card == "" || card.Label == "" {
				return fmt.Errorf("combination %s: cards need a card and a label", c.Name)
			}
		}
	}
	return nil
}

// ValidateJobs checks job configuration for errors.
func ValidateJobs(jc JobsConfig) error {
	for _, m := range jc.Methods {
		if !jobs.ValidMethod(m) {
			return fmt.Errorf("jobs.methods: unknown method %q", m)
		}
		if m == jobs.MethodMultiPOI && len(jc.POIs) == 0 {
			return fmt.Errorf("jobs.methods: multipoi needs jobs.pois")
		}
	}
	switch jc.Dispatch {
	case "", jobs.DispatchLocal:
	case jobs.DispatchScheduler:
		if len(jc.Submit) == 0 {
			return fmt.Errorf("jobs.submit is required when dispatch is %q", jobs.DispatchScheduler)
		}
	default:
		return fmt.Errorf("jobs.dispatch must be %q or %q, got %q", jobs.DispatchLocal, jobs.DispatchScheduler, jc.Dispatch)
	}
	for _, p := range jc.POIs {
		if p.Name == "" || len(p.Processes) == 0 {
			return fmt.Errorf("jobs.pois: entries need a name and processes")
		}
		if p.Max <= p.Min {
			return fmt.Errorf("jobs.pois: %s needs max > min", p.Name)
		}
	}
	if jc.Timeout < 0 {
		return fmt.Errorf("jobs.timeout must not be negative")
	}
	return nil
}

// Channel returns the named channel configuration.
func (c Config) Channel(name string) (ChannelConfig, bool) {
	i := slices.IndexFunc(c.Channels, func(ch ChannelConfig) bool { return ch.Name == name })
	if i < 0 {
		return ChannelConfig{}, false
	}
	return c.Channels[i], true
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# cardgen configuration

# Directory receiving cards, combined cards, job scripts and fit logs
output_dir: cards

# Channels generated in parallel
concurrency: 4

# One entry per elementary card
channels: []
#  - name: 3l
#    variable: mva
#    histogram_file: hists_3l.root
#    # Merged into histogram_file with hadd before extraction
#    # inputs: [hists_3l_2016.root, hists_3l_2017.root]
#    signal_tags: [tZq]
#    # data_tag: data
#    # Systematic sources ignored during extraction
#    # exclude: [pdf]
#    # Registry mutations, applied in this order:
#    # remove: [ttH]
#    # rename:
#    #   - {from: nonpromptData, to: nonprompt}
#    # promote: [tZq_antitop]
#    norm_systematics:
#      - {name: lumi, value: 1.025}
#      - {name: WZ_norm, value: 1.10, processes: [WZ]}
#    # disable:
#    #   - {systematic: JEC, processes: [nonprompt]}
#    # enable:
#    #   - {systematic: JER, processes: [WZ], value: 1}
#    # Extracted systematics left out of the card
#    # shape_exclude: [prefire]
#    # rate_params: [WZ]
#    # ratio: {name: r_ratio, numerator: tZq, denominator: ttZ}
#    # auto_mc_stats: 10

# Combined cards built from elementary cards
combinations: []
#  - name: combo_all.txt
#    cards:
#      - {card: datacard_3l.txt, label: threelep}
#      - {card: datacard_4l.txt, label: fourlep}

# Fit engine binaries
tools:
  combine_cards: combineCards.py
  text2workspace: text2workspace.py
  combine: combine
  hadd: hadd

# Fit jobs
jobs:
  # significance, significance-observed, signalstrength, multipoi
  methods: [significance, signalstrength]
  # local runs scripts here; scheduler submits them
  dispatch: local
  # submit: [sbatch, --time=02:00:00]
  # setup:
  #   - source /path/to/combine/env.sh
  # pois:
  #   - {name: r_tZq, processes: [tZq], min: 0, max: 4}
  #   - {name: r_ttZ, processes: [ttZ], min: 0, max: 4}
  # timeout: 2h

# Histogram metadata cache (0 disables)
cache:
  ttl: 10m

# Tracing of generation, combination and fit dispatch
# tracing:
#   enabled: false
#   exporter: file                 # none, file, stdout, otlp
#   file_path: ~/.config/cardgen/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

# Feature flags
flags:
  require-down-variation: false   # missing Down variation is an error
  observation-from-data: false    # write the data integral instead of -1
  keep-going: false               # failed channels become warnings
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "created default config", "path", configPath)
	return nil
}
