package executor_test

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

func TestFitEngine_CombineCards(t *testing.T) {
	dir := t.TempDir()
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().
		Run(mock.Anything, mock.MatchedBy(func(c executor.Command) bool {
			return c.Name == "combineCards.py" && c.Dir == dir &&
				len(c.Args) == 2 && c.Args[0] == "ee=datacard_ee.txt" && c.Args[1] == "mm=datacard_mm.txt"
		})).
		Run(func(_ context.Context, c executor.Command) {
			_, _ = c.Stdout.Write([]byte("combined card\n"))
		}).
		Return(executor.Result{}, nil).
		Once()

	engine := executor.NewFitEngine(runner, executor.Tools{})
	err := engine.CombineCards(context.Background(), dir, "combo.txt", []executor.LabeledCard{
		{Label: "ee", Card: "datacard_ee.txt"},
		{Label: "mm", Card: "datacard_mm.txt"},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "combo.txt"))
	require.NoError(t, err)
	require.Equal(t, "combined card\n", string(data))
}

func TestFitEngine_CombineCardsFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().Run(mock.Anything, mock.Anything).
		Return(executor.Result{ExitCode: 1, Stderr: "no such card"}, nil).Once()

	engine := executor.NewFitEngine(runner, executor.Tools{CombineCards: "/opt/cmssw/combineCards.py"})
	err := engine.CombineCards(context.Background(), dir, "combo.txt", []executor.LabeledCard{{Label: "a", Card: "x.txt"}})

	var upstream *executor.UpstreamToolError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, "/opt/cmssw/combineCards.py", upstream.Tool)
	_, statErr := os.Stat(filepath.Join(dir, "combo.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestFitEngine_Text2WorkspaceAndCombine(t *testing.T) {
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().
		Run(mock.Anything, executor.Command{Name: "text2workspace.py", Args: []string{"card.txt", "-o", "card.root", "-m", "125"}}).
		Return(executor.Result{}, nil).Once()
	runner.EXPECT().
		Run(mock.Anything, executor.Command{Name: "combine", Args: []string{"-M", "Significance", "card.root"}, Dir: "cards"}).
		Return(executor.Result{Stdout: "Significance: 5.1\n"}, nil).Once()

	engine := executor.NewFitEngine(runner, executor.DefaultTools())
	require.NoError(t, engine.Text2Workspace(context.Background(), "card.txt", "card.root", "-m", "125"))

	res, err := engine.Combine(context.Background(), "cards", "-M", "Significance", "card.root")
	require.NoError(t, err)
	require.Equal(t, "Significance: 5.1\n", res.Stdout)
}

func TestFitEngine_Hadd(t *testing.T) {
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().
		Run(mock.Anything, executor.Command{Name: "hadd", Args: []string{"-f", "all.root", "a.root", "b.root"}}).
		Return(executor.Result{}, nil).Once()

	engine := executor.NewFitEngine(runner, executor.Tools{})
	require.NoError(t, engine.Hadd(context.Background(), "all.root", "a.root", "b.root"))
	require.Error(t, engine.Hadd(context.Background(), "all.root"))
}

func TestFitEngine_RunnerError(t *testing.T) {
	runner := mocks.NewMockRunner(t)
	runner.EXPECT().Run(mock.Anything, mock.Anything).Return(executor.Result{}, executor.ErrToolNotFound).Once()

	engine := executor.NewFitEngine(runner, executor.Tools{})
	err := engine.Text2Workspace(context.Background(), "c.txt", "c.root")
	require.ErrorIs(t, err, executor.ErrToolNotFound)
}
