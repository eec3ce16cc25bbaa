package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveProjectDir(t *testing.T) {
	require.Equal(t, ".cardgen", ResolveProjectDir(""))
	require.Equal(t, "/analysis/.cardgen", ResolveProjectDir("/analysis"))
	require.Equal(t, "/analysis/.cardgen", ResolveProjectDir("/analysis/.cardgen/"))
}

func TestResolveProjectDir_FollowsRedirect(t *testing.T) {
	root := t.TempDir()
	shared := filepath.Join(root, "shared", ProjectDirName)
	require.NoError(t, os.MkdirAll(shared, 0o755))

	checkout := filepath.Join(root, "checkout", ProjectDirName)
	require.NoError(t, os.MkdirAll(checkout, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(checkout, "redirect"), []byte("../../shared/.cardgen\n"), 0o644))

	require.Equal(t, shared, ResolveProjectDir(filepath.Dir(checkout)))
}

func TestCardNames(t *testing.T) {
	require.Equal(t, "datacard_3l_SR.txt", CardFileName("3l_SR"))
	require.Equal(t, filepath.Join("cards", "datacard_3l_SR.txt"), CardFile("cards", "3l_SR"))

	ch, ok := ChannelFromCard("cards/datacard_3l_SR.txt")
	require.True(t, ok)
	require.Equal(t, "3l_SR", ch)

	_, ok = ChannelFromCard("cards/combo_all.txt")
	require.False(t, ok)
	_, ok = ChannelFromCard("datacard_.txt")
	require.False(t, ok)
}

func TestJobFiles(t *testing.T) {
	card := "cards/combo_all.txt"
	require.Equal(t, "cards/combo_all_signalstrength.root", JobWorkspaceFile(card, "signalstrength"))
	require.Equal(t, "cards/combo_all_significance.log", LogFile(card, "significance"))
	require.Equal(t, "cards/combo_all_multipoi.sh", ScriptFile(card, "multipoi"))
	require.Equal(t, filepath.Join("p", "results.db"), ResultsDB("p"))
}
