package extract

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/tzq-analysis/cardgen/internal/histstore"
	"github.com/tzq-analysis/cardgen/internal/processes"
)

// integrals returns an IntegralFunc backed by a map.
func integrals(m map[string]float64) IntegralFunc {
	return func(name string) (float64, bool, error) {
		v, ok := m[name]
		return v, ok, nil
	}
}

var tzqHistograms = map[string]float64{
	"data_mva_nominal":   140,
	"tZq_mva_nominal":    30.2,
	"tZq_mva_JECUp":      31,
	"tZq_mva_JECDown":    29,
	"WZ_mva_nominal":     100,
	"WZ_mva_JERUp":       101,
	"WZ_mva_JERDown":     99,
	"WZ_mva_pdfUp":       100.5,
	"ZZ_mva_nominal":     12.5,
	"tZq_bdt_nominal":    18,
	"ttZ_mva_nominal":    8,
	"ttZ_mva_weirdShift": 9,
}

var tzqOrder = []string{
	"data_mva_nominal",
	"tZq_mva_nominal", "tZq_mva_JECUp", "tZq_mva_JECDown",
	"WZ_mva_nominal", "WZ_mva_JERUp", "WZ_mva_JERDown", "WZ_mva_pdfUp",
	"ZZ_mva_nominal",
	"tZq_bdt_nominal",
	"ttZ_mva_nominal", "ttZ_mva_weirdShift",
}

func impactsOf(t *testing.T, r *processes.Registry) map[string]map[string]string {
	t.Helper()
	out := make(map[string]map[string]string)
	for _, p := range r.Processes() {
		e, ok := r.Process(p)
		require.True(t, ok)
		row := make(map[string]string)
		for s, impact := range e.Systematics {
			row[s] = impact.String()
		}
		out[p] = row
	}
	return out
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name string
		want Name
		ok   bool
	}{
		{"tZq_mva_nominal", Name{"tZq", "mva", "nominal"}, true},
		{"tZq_top_mva_JECUp", Name{"tZq_top", "mva", "JECUp"}, true},
		{"tZq_bdt_nominal", Name{}, false},
		{"_mva_nominal", Name{}, false},
		{"tZq_mva_", Name{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseName(tt.name, "mva")
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestName_Source(t *testing.T) {
	s, d := Name{Systematic: "JECUp"}.Source()
	require.Equal(t, "JEC", s)
	require.Equal(t, "Up", d)

	s, d = Name{Systematic: "pileupDown"}.Source()
	require.Equal(t, "pileup", s)
	require.Equal(t, "Down", d)

	_, d = Name{Systematic: "Up"}.Source()
	require.Empty(t, d)
	_, d = Name{Systematic: "nominal"}.Source()
	require.Empty(t, d)
}

func TestBuildRegistry(t *testing.T) {
	r, err := BuildRegistry(tzqOrder, "mva", integrals(tzqHistograms), Options{SignalTags: []string{"tZq"}})
	require.NoError(t, err)
	require.NoError(t, r.CheckInvariants())

	require.Equal(t, []string{"tZq", "WZ", "ZZ", "ttZ"}, r.Processes())
	require.Equal(t, []string{"JEC", "JER", "pdf"}, r.Systematics())

	tzq, _ := r.Process("tZq")
	require.Equal(t, 0, tzq.ID)
	require.Equal(t, 30.2, tzq.Yield)
	zz, _ := r.Process("ZZ")
	require.Equal(t, 2, zz.ID)

	want := map[string]map[string]string{
		"tZq": {"JEC": "1", "JER": "-", "pdf": "-"},
		"WZ":  {"JEC": "-", "JER": "1", "pdf": "1"},
		"ZZ":  {"JEC": "-", "JER": "-", "pdf": "-"},
		"ttZ": {"JEC": "-", "JER": "-", "pdf": "-"},
	}
	if diff := cmp.Diff(want, impactsOf(t, r)); diff != "" {
		t.Fatalf("impacts mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRegistry_SumsNominalIntegrals(t *testing.T) {
	names := []string{"WZ_mva_nominal", "WZ_mva_nominal"}
	r, err := BuildRegistry(names, "mva", integrals(map[string]float64{"WZ_mva_nominal": 2.5}), Options{})
	require.NoError(t, err)
	wz, _ := r.Process("WZ")
	require.Equal(t, 5.0, wz.Yield)
}

func TestBuildRegistry_SignalIDsDescend(t *testing.T) {
	names := []string{"WZ_mva_nominal", "tZq_mva_nominal", "tZq_top_mva_nominal", "ZZ_mva_nominal"}
	values := map[string]float64{"WZ_mva_nominal": 1, "tZq_mva_nominal": 1, "tZq_top_mva_nominal": 1, "ZZ_mva_nominal": 1}

	r, err := BuildRegistry(names, "mva", integrals(values), Options{SignalTags: []string{"tZq", "tZq_top"}})
	require.NoError(t, err)
	require.Equal(t, []string{"tZq_top", "tZq", "WZ", "ZZ"}, r.Processes())
	minID, maxID := r.IDRange()
	require.Equal(t, -1, minID)
	require.Equal(t, 2, maxID)
}

func TestBuildRegistry_Exclude(t *testing.T) {
	r, err := BuildRegistry(tzqOrder, "mva", integrals(tzqHistograms), Options{Exclude: []string{"pdf", "JER"}})
	require.NoError(t, err)
	require.Equal(t, []string{"JEC"}, r.Systematics())
}

func TestBuildRegistry_RequireDown(t *testing.T) {
	_, err := BuildRegistry(tzqOrder, "mva", integrals(tzqHistograms), Options{RequireDown: true})
	var missing *MissingHistogramError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "WZ_mva_pdfDown", missing.Name)

	_, err = BuildRegistry(tzqOrder, "mva", integrals(tzqHistograms), Options{RequireDown: true, Exclude: []string{"pdf"}})
	require.NoError(t, err)
}

func TestBuildRegistry_MissingNominalIntegral(t *testing.T) {
	_, err := BuildRegistry([]string{"WZ_mva_nominal"}, "mva", integrals(nil), Options{})
	var missing *MissingHistogramError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, "WZ_mva_nominal", missing.Name)
}

func TestBuildRegistry_IntegralError(t *testing.T) {
	boom := errors.New("corrupt file")
	_, err := BuildRegistry([]string{"WZ_mva_nominal"}, "mva", func(string) (float64, bool, error) {
		return 0, false, boom
	}, Options{})
	require.ErrorIs(t, err, boom)
}

func TestBuildRegistry_EmptyIsNotAnError(t *testing.T) {
	r, err := BuildRegistry([]string{"data_mva_nominal", "tZq_bdt_nominal"}, "mva", integrals(tzqHistograms), Options{})
	require.NoError(t, err)
	require.Zero(t, r.Len())
	require.Empty(t, r.Systematics())
}

func TestBuildRegistry_CustomDataTag(t *testing.T) {
	names := []string{"data_obs_mva_nominal", "WZ_mva_nominal"}
	values := map[string]float64{"WZ_mva_nominal": 1}
	r, err := BuildRegistry(names, "mva", integrals(values), Options{DataTag: "data_obs"})
	require.NoError(t, err)
	require.Equal(t, []string{"WZ"}, r.Processes())
}

func TestVariables(t *testing.T) {
	names := []string{"data_mva_nominal", "tZq_mva_nominal", "data_njets_nominal", "data_mva_nominal", "data_mva_JECUp"}
	require.Equal(t, []string{"mva", "njets"}, Variables(names, ""))
}

func TestFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hists.yaml")
	var entries []histstore.ManifestEntry
	for _, n := range tzqOrder {
		entries = append(entries, histstore.ManifestEntry{Name: n, Integral: tzqHistograms[n]})
	}
	require.NoError(t, histstore.WriteManifest(path, &histstore.Manifest{Histograms: entries}))

	r, err := FromStore(context.Background(), histstore.NewManifestStore(), path, "mva", Options{SignalTags: []string{"tZq"}})
	require.NoError(t, err)
	require.Equal(t, []string{"tZq", "WZ", "ZZ", "ttZ"}, r.Processes())

	_, err = FromStore(context.Background(), histstore.NewManifestStore(), path, "mva", Options{RequireDown: true})
	var missing *MissingHistogramError
	require.True(t, errors.As(err, &missing))
	require.Equal(t, path, missing.File)
	require.Contains(t, err.Error(), path)
}
