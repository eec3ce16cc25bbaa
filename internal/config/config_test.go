package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/tzq-analysis/cardgen/internal/combine"
	"github.com/tzq-analysis/cardgen/internal/flags"
	"github.com/tzq-analysis/cardgen/internal/jobs"
)

func load(t *testing.T, text string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(text)))
	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))
	return cfg
}

func validChannel() ChannelConfig {
	return ChannelConfig{Name: "3l", Variable: "mva", HistogramFile: "hists_3l.root"}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, "cards", cfg.OutputDir)
	require.Equal(t, 4, cfg.Concurrency)
	require.Equal(t, "combineCards.py", cfg.Tools.CombineCards)
	require.Equal(t, jobs.DispatchLocal, cfg.Jobs.Dispatch)
	require.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	require.False(t, cfg.Tracing.Enabled)
	require.Contains(t, cfg.Flags, flags.FlagKeepGoing)
	require.NoError(t, cfg.Validate())
}

func TestDefaultConfigTemplate_MatchesDefaults(t *testing.T) {
	cfg := load(t, DefaultConfigTemplate())
	def := Defaults()

	require.Equal(t, def.OutputDir, cfg.OutputDir)
	require.Equal(t, def.Concurrency, cfg.Concurrency)
	require.Equal(t, def.Tools, cfg.Tools)
	require.Equal(t, def.Jobs.Methods, cfg.Jobs.Methods)
	require.Equal(t, def.Jobs.Dispatch, cfg.Jobs.Dispatch)
	require.Equal(t, def.Cache.TTL, cfg.Cache.TTL)
	require.Equal(t, def.Flags, cfg.Flags)
	require.Empty(t, cfg.Channels)
	require.Empty(t, cfg.Combinations)
}

func TestLoad_FullChannel(t *testing.T) {
	cfg := load(t, `
output_dir: out
channels:
  - name: 3l
    variable: mva
    histogram_file: hists_3l.root
    inputs: [a.root, b.root]
    signal_tags: [tZq]
    remove: [ttH]
    rename:
      - {from: nonpromptData, to: nonprompt}
    promote: [tZq_antitop]
    norm_systematics:
      - {name: lumi, value: 1.025}
      - {name: WZ_norm, value: 1.1, processes: [WZ]}
    enable:
      - {systematic: JER, processes: [WZ], value: 1}
    rate_params: [WZ]
    ratio: {name: r_ratio, numerator: tZq, denominator: ttZ}
    auto_mc_stats: 5
combinations:
  - name: combo_all.txt
    cards:
      - {card: datacard_3l.txt, label: threelep}
jobs:
  methods: [multipoi]
  pois:
    - {name: r_tZq, processes: [tZq], min: 0, max: 4}
  timeout: 90m
`)
	require.NoError(t, cfg.Validate())

	ch, ok := cfg.Channel("3l")
	require.True(t, ok)
	require.Equal(t, []string{"a.root", "b.root"}, ch.Inputs)
	require.Equal(t, []RenameConfig{{From: "nonpromptData", To: "nonprompt"}}, ch.Rename)
	require.Equal(t, []string{"WZ"}, ch.NormSystematics[1].Processes)
	require.Equal(t, 1.025, ch.NormSystematics[0].Value)
	require.Equal(t, &RatioConfig{Name: "r_ratio", Numerator: "tZq", Denominator: "ttZ"}, ch.Ratio)
	require.Equal(t, 5.0, ch.AutoMCStats)
	require.Equal(t, 90*time.Minute, cfg.Jobs.Timeout)

	_, ok = cfg.Channel("4l")
	require.False(t, ok)

	require.Equal(t, combine.Spec{"combo_all.txt": {"datacard_3l.txt": "threelep"}}, cfg.CombineSpec())
}

func TestValidateChannels(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ChannelConfig)
		wantErr string
	}{
		{"valid", func(*ChannelConfig) {}, ""},
		{"missing name", func(c *ChannelConfig) { c.Name = "" }, "name is required"},
		{"missing variable", func(c *ChannelConfig) { c.Variable = "" }, "variable is required"},
		{"missing histogram file", func(c *ChannelConfig) { c.HistogramFile = "" }, "histogram_file is required"},
		{"negative threshold", func(c *ChannelConfig) { c.AutoMCStats = -1 }, "auto_mc_stats"},
		{"half rename", func(c *ChannelConfig) { c.Rename = []RenameConfig{{From: "WZ"}} }, "rename"},
		{"zero norm value", func(c *ChannelConfig) { c.NormSystematics = []NormSystematicConfig{{Name: "lumi"}} }, "positive value"},
		{"enable without processes", func(c *ChannelConfig) { c.Enable = []SystematicScope{{Systematic: "JEC"}} }, "enable/disable"},
		{"ratio without numerator", func(c *ChannelConfig) { c.Ratio = &RatioConfig{Name: "r"} }, "ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := validChannel()
			tt.mutate(&ch)
			err := ValidateChannels([]ChannelConfig{ch})
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateChannels_Duplicate(t *testing.T) {
	err := ValidateChannels([]ChannelConfig{validChannel(), validChannel()})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate channel")
}

func TestValidateChannels_SharedMergeTarget(t *testing.T) {
	a := validChannel()
	a.Inputs = []string{"3l_2017.root", "3l_2018.root"}
	b := validChannel()
	b.Name = "3l_pt"
	b.Variable = "pt"
	b.Inputs = slices.Clone(a.Inputs)
	require.NoError(t, ValidateChannels([]ChannelConfig{a, b}))

	b.Inputs = []string{"3l_2018.root"}
	err := ValidateChannels([]ChannelConfig{a, b})
	require.ErrorContains(t, err, "merged from different inputs")
}

func TestValidateCombinations(t *testing.T) {
	require.NoError(t, ValidateCombinations([]CombinationConfig{{Name: "empty.txt"}}),
		"an empty combination is skipped at run time, not rejected")
	require.Error(t, ValidateCombinations([]CombinationConfig{{}}))
	require.Error(t, ValidateCombinations([]CombinationConfig{{Name: "a"}, {Name: "a"}}))
	require.Error(t, ValidateCombinations([]CombinationConfig{{Name: "a", Cards: []CardLabelConfig{{Card: "x.txt"}}}}))
}

func TestValidateJobs(t *testing.T) {
	require.NoError(t, ValidateJobs(Defaults().Jobs))
	require.Error(t, ValidateJobs(JobsConfig{Methods: []string{"asimov"}}))
	require.Error(t, ValidateJobs(JobsConfig{Methods: []string{jobs.MethodMultiPOI}}))
	require.Error(t, ValidateJobs(JobsConfig{Dispatch: jobs.DispatchScheduler}))
	require.NoError(t, ValidateJobs(JobsConfig{Dispatch: jobs.DispatchScheduler, Submit: []string{"qsub"}}))
	require.Error(t, ValidateJobs(JobsConfig{Dispatch: "cloud"}))
	require.Error(t, ValidateJobs(JobsConfig{POIs: []POIConfig{{Name: "r", Processes: []string{"tZq"}, Min: 4, Max: 0}}}))
}

func TestConfig_ValidateTracing(t *testing.T) {
	cfg := Defaults()
	cfg.Tracing.Exporter = "zipkin"
	require.Error(t, cfg.Validate())
}

func TestJobOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Jobs.Methods = []string{jobs.MethodMultiPOI}
	cfg.Jobs.POIs = []POIConfig{{Name: "r_tZq", Processes: []string{"tZq"}, Min: 0, Max: 4}}
	cfg.Jobs.Setup = []string{"source env.sh"}

	opts := cfg.JobOptions()
	require.Equal(t, cfg.Tools, opts.Tools)
	require.Equal(t, []jobs.POI{{Name: "r_tZq", Processes: []string{"tZq"}, Min: 0, Max: 4}}, opts.POIs)
	require.Equal(t, []string{"source env.sh"}, opts.Setup)
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".cardgen", "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfigTemplate(), string(data))
}
