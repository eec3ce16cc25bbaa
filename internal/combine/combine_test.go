package combine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/mocks"
)

// recordingTool records combinations instead of running the tool.
type recordingTool struct {
	calls map[string][]executor.LabeledCard
	fail  map[string]error
}

func (r *recordingTool) CombineCards(_ context.Context, _ string, output string, cards []executor.LabeledCard) error {
	if err := r.fail[output]; err != nil {
		return err
	}
	if r.calls == nil {
		r.calls = make(map[string][]executor.LabeledCard)
	}
	r.calls[output] = cards
	return nil
}

func writeCards(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("imax 1\n"), 0o644))
	}
}

func TestCombine_EmptyCombination(t *testing.T) {
	tool := &recordingTool{}
	got, err := New(tool).Combine(context.Background(), t.TempDir(), Spec{"combo_all.txt": {}})
	require.NoError(t, err)
	require.NotContains(t, got, "combo_all.txt")
	require.Empty(t, tool.calls)
}

func TestCombine(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_ee.txt", "datacard_mm.txt", "datacard_em.txt")
	tool := &recordingTool{}

	got, err := New(tool).Combine(context.Background(), dir, Spec{
		"combo_sf.txt":   {"datacard_mm.txt": "mm", "datacard_ee.txt": "ee"},
		"combo_all.txt":  {"datacard_ee.txt": "ee", "datacard_mm.txt": "mm", "datacard_em.txt": "em"},
		"combo_none.txt": {},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"combo_all.txt", "combo_sf.txt"}, got)
	require.Equal(t, []executor.LabeledCard{
		{Label: "ee", Card: "datacard_ee.txt"},
		{Label: "em", Card: "datacard_em.txt"},
		{Label: "mm", Card: "datacard_mm.txt"},
	}, tool.calls["combo_all.txt"])
}

func TestCombine_SkipsMissingElementaryCard(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_ee.txt")
	tool := &recordingTool{}

	got, err := New(tool).Combine(context.Background(), dir, Spec{
		"combo_sf.txt": {"datacard_ee.txt": "ee", "datacard_mm.txt": "mm"},
		"combo_ee.txt": {"datacard_ee.txt": "ee"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"combo_ee.txt"}, got)
}

func TestCombine_ToolFailure(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_ee.txt")
	boom := &executor.UpstreamToolError{Tool: "combineCards.py", ExitCode: 1}
	tool := &recordingTool{fail: map[string]error{"combo_b.txt": boom}}

	got, err := New(tool).Combine(context.Background(), dir, Spec{
		"combo_a.txt": {"datacard_ee.txt": "ee"},
		"combo_b.txt": {"datacard_ee.txt": "ee"},
		"combo_c.txt": {"datacard_ee.txt": "ee"},
	})
	var upstream *executor.UpstreamToolError
	require.True(t, errors.As(err, &upstream))
	require.Contains(t, err.Error(), "combo_b.txt")
	require.Equal(t, []string{"combo_a.txt"}, got)
}

func TestCombine_DuplicateLabel(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "a.txt", "b.txt")

	_, err := New(&recordingTool{}).Combine(context.Background(), dir, Spec{
		"combo.txt": {"a.txt": "ch", "b.txt": "ch"},
	})
	require.ErrorIs(t, err, ErrDuplicateLabel)
}

func TestCombine_WithFitEngine(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_ee.txt")
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().
		Run(mock.Anything, mock.MatchedBy(func(c executor.Command) bool {
			return c.Name == "combineCards.py" && len(c.Args) == 1 && c.Args[0] == "ee=datacard_ee.txt"
		})).
		Run(func(_ context.Context, c executor.Command) {
			_, _ = c.Stdout.Write([]byte("Combination of ee=datacard_ee.txt\n"))
		}).
		Return(executor.Result{}, nil).Once()

	got, err := New(executor.NewFitEngine(runner, executor.Tools{})).
		Combine(context.Background(), dir, Spec{"combo_ee.txt": {"datacard_ee.txt": "ee"}})
	require.NoError(t, err)
	require.Equal(t, []string{"combo_ee.txt"}, got)

	data, err := os.ReadFile(filepath.Join(dir, "combo_ee.txt"))
	require.NoError(t, err)
	require.Contains(t, string(data), "Combination of")
}

func TestCombine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(&recordingTool{}).Combine(ctx, t.TempDir(), Spec{"x.txt": {}})
	require.ErrorIs(t, err, context.Canceled)
}

func TestLoadSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combinations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`combo_all.txt:
  datacard_ee.txt: ee
  datacard_mm.txt: mm
combo_empty.txt: {}
`), 0o644))

	spec, err := LoadSpec(path)
	require.NoError(t, err)
	require.Equal(t, Spec{
		"combo_all.txt":   {"datacard_ee.txt": "ee", "datacard_mm.txt": "mm"},
		"combo_empty.txt": {},
	}, spec)
}
