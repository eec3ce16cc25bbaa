package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/fitresult"
	"github.com/tzq-analysis/cardgen/internal/mocks"
)

func writeCards(t *testing.T, dir string, cards ...string) {
	t.Helper()
	for _, c := range cards {
		require.NoError(t, os.WriteFile(filepath.Join(dir, c), []byte("imax 1\n"), 0o644))
	}
}

var testPOIs = []POI{
	{Name: "r_tZq", Processes: []string{"tZq"}, Min: 0, Max: 4},
	{Name: "r_ttZ", Processes: []string{"ttZ"}, Min: 0, Max: 2.5},
}

func TestPlan(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_3l.txt", "combo_all.txt")

	jobs, err := Plan(dir, []string{"datacard_3l.txt", "combo_all.txt"}, Options{
		Methods: []string{MethodSignificance, MethodMultiPOI},
		POIs:    testPOIs,
	})
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	j := jobs[1]
	require.Equal(t, "datacard_3l.txt", j.Card)
	require.Equal(t, MethodMultiPOI, j.Method)
	require.Equal(t, filepath.Join(dir, "datacard_3l_multipoi.sh"), j.Script)
	require.Equal(t, filepath.Join(dir, "datacard_3l_multipoi.log"), j.Log)
	require.Equal(t, "datacard_3l_multipoi.root", j.Workspace)
	require.Equal(t, fitresult.ModeMultiPOI, j.Mode())

	ids := map[string]bool{}
	for _, j := range jobs {
		require.NotEmpty(t, j.ID)
		ids[j.ID] = true
	}
	require.Len(t, ids, 4, "job ids are unique")
}

func TestPlan_Errors(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_3l.txt")

	_, err := Plan(dir, []string{"datacard_3l.txt"}, Options{})
	require.Error(t, err, "no methods")

	_, err = Plan(dir, []string{"datacard_4l.txt"}, Options{Methods: []string{MethodSignificance}})
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = Plan(dir, []string{"datacard_3l.txt"}, Options{Methods: []string{MethodMultiPOI}})
	require.ErrorContains(t, err, "no parameters of interest")

	_, err = Plan(dir, []string{"datacard_3l.txt"}, Options{Methods: []string{"asimov"}})
	require.ErrorContains(t, err, "unknown fit method")
}

func TestRender_MultiPOI(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "combo_all.txt")
	jobs, err := Plan(dir, []string{"combo_all.txt"}, Options{Methods: []string{MethodMultiPOI}, POIs: testPOIs})
	require.NoError(t, err)

	opts := Options{Setup: []string{"source env.sh"}}
	script, err := Render(jobs[0], opts)
	require.NoError(t, err)
	text := string(script)

	require.True(t, strings.HasPrefix(text, "#!/bin/sh\n# cardgen fit job "+jobs[0].ID+"\n"))
	require.Contains(t, text, "\ncd "+shellQuote(jobs[0].Dir)+"\nsource env.sh\n")
	require.Contains(t, text, "  text2workspace.py combo_all.txt -o combo_all_multipoi.root"+
		" -P HiggsAnalysis.CombinedLimit.PhysicsModel:multiSignalModel --PO verbose"+
		" --PO 'map=.*/tZq:r_tZq[1,0,4]' --PO 'map=.*/ttZ:r_ttZ[1,0,2.5]'\n")
	require.Contains(t, text, "  combine -M MultiDimFit --algo singles --redefineSignalPOIs r_tZq,r_ttZ combo_all_multipoi.root\n")
	require.True(t, strings.HasSuffix(text, "} > combo_all_multipoi.log 2>&1\n"))
}

func TestShellQuote(t *testing.T) {
	require.Equal(t, "datacard_3l.txt", shellQuote("datacard_3l.txt"))
	require.Equal(t, "--expectSignal=1", shellQuote("--expectSignal=1"))
	require.Equal(t, "'my cards'", shellQuote("my cards"))
	require.Equal(t, `'it'\''s'`, shellQuote("it's"))
	require.Equal(t, "''", shellQuote(""))
}

func TestWriteScripts(t *testing.T) {
	dir := t.TempDir()
	writeCards(t, dir, "datacard_3l.txt")
	jobs, err := Plan(dir, []string{"datacard_3l.txt"}, Options{Methods: Methods()[:3]})
	require.NoError(t, err)
	require.NoError(t, WriteScripts(jobs, Options{}))

	for _, j := range jobs {
		info, err := os.Stat(j.Script)
		require.NoError(t, err)
		require.NotZero(t, info.Mode().Perm()&0o100, "script is executable")
	}
}

// fakeTool writes an executable shell script standing in for a fit engine tool.
func fakeTool(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestLocalDispatcher_RunsScript(t *testing.T) {
	dir := t.TempDir()
	bin := t.TempDir()
	writeCards(t, dir, "datacard_3l.txt")
	opts := Options{
		Tools: executor.Tools{
			Text2Workspace: fakeTool(t, bin, "t2w", `touch "$3"`),
			Combine:        fakeTool(t, bin, "combine", `echo " -- Significance --"; echo "Significance: 3.2"`),
		},
		Methods: []string{MethodSignificance},
	}
	jobs, err := Plan(dir, []string{"datacard_3l.txt"}, opts)
	require.NoError(t, err)
	require.NoError(t, WriteScripts(jobs, opts))

	d := NewLocalDispatcher(executor.NewRealRunner(0))
	require.NoError(t, DispatchAll(context.Background(), d, jobs, DispatchOptions{}))

	_, err = os.Stat(filepath.Join(dir, jobs[0].Workspace))
	require.NoError(t, err, "workspace built")
	results, err := fitresult.ParseFile(jobs[0].Log, jobs[0].Mode())
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 3.2, results[0].Central)
}

func TestLocalDispatcher_FailingFit(t *testing.T) {
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().Run(mock.Anything, mock.MatchedBy(func(c executor.Command) bool {
		return c.Name == "sh" && len(c.Args) == 1 && c.Args[0] == "/w/datacard_3l_significance.sh" && c.Dir == "/w"
	})).Return(executor.Result{ExitCode: 2, Stderr: "combine crashed"}, nil).Once()

	err := NewLocalDispatcher(runner).Submit(context.Background(), Job{
		ID: "j1", Card: "datacard_3l.txt", Method: MethodSignificance,
		Dir: "/w", Script: "/w/datacard_3l_significance.sh",
	})
	var upstream *executor.UpstreamToolError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, 2, upstream.ExitCode)
	require.Contains(t, err.Error(), "datacard_3l.txt")
}

func TestSchedulerDispatcher(t *testing.T) {
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().Run(mock.Anything, mock.MatchedBy(func(c executor.Command) bool {
		return c.Name == "sbatch" && len(c.Args) == 2 && c.Args[0] == "--time=02:00:00" && c.Args[1] == "/w/s.sh"
	})).Return(executor.Result{Stdout: "Submitted batch job 4242\n"}, nil).Twice()

	d, err := NewSchedulerDispatcher(runner, []string{"sbatch", "--time=02:00:00"})
	require.NoError(t, err)
	job := Job{ID: "j1", Card: "c.txt", Method: MethodSignificance, Dir: "/w", Script: "/w/s.sh"}
	require.NoError(t, d.Submit(context.Background(), job))
	require.NoError(t, d.Submit(context.Background(), job), "the configured command is not modified between submits")

	_, err = NewSchedulerDispatcher(runner, nil)
	require.Error(t, err)
}

type dispatchFunc func(ctx context.Context, job Job) error

func (f dispatchFunc) Submit(ctx context.Context, job Job) error { return f(ctx, job) }

func TestDispatchAll_FailFast(t *testing.T) {
	var calls atomic.Int32
	d := dispatchFunc(func(context.Context, Job) error {
		calls.Add(1)
		return errors.New("boom")
	})
	jobs := []Job{{Card: "a"}, {Card: "b"}, {Card: "c"}}

	err := DispatchAll(context.Background(), d, jobs, DispatchOptions{Limit: 1})
	require.ErrorContains(t, err, "boom")
	require.Equal(t, int32(1), calls.Load(), "jobs after the first failure are not started")
}

func TestDispatchAll_KeepGoing(t *testing.T) {
	var calls atomic.Int32
	d := dispatchFunc(func(_ context.Context, job Job) error {
		calls.Add(1)
		if job.Card == "b" {
			return errors.New("card b failed")
		}
		return nil
	})
	jobs := []Job{{Card: "a"}, {Card: "b"}, {Card: "c"}}

	err := DispatchAll(context.Background(), d, jobs, DispatchOptions{Limit: 2, KeepGoing: true})
	require.ErrorContains(t, err, "card b failed")
	require.Equal(t, int32(3), calls.Load())
}

func TestDispatchAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := dispatchFunc(func(context.Context, Job) error {
		t.Fatal("no job may start after cancellation")
		return nil
	})
	err := DispatchAll(ctx, d, []Job{{Card: "a"}}, DispatchOptions{})
	require.ErrorIs(t, err, context.Canceled)
}
