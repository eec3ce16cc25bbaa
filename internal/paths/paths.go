// Package paths names the files cardgen reads and writes.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// ProjectDirName is the per-analysis directory holding config and state.
	ProjectDirName = ".cardgen"

	// ResultsDBName is the fit-result database inside the project directory.
	ResultsDBName = "results.db"

	cardPrefix = "datacard_"
	cardExt    = ".txt"
)

// ResolveProjectDir resolves the .cardgen directory from user input.
//
// Input normalization:
//   - "/analysis" -> "/analysis/.cardgen"
//   - "/analysis/.cardgen" -> "/analysis/.cardgen"
//   - "" -> "./.cardgen"
//
// If the directory holds a "redirect" file, its content (relative to the
// directory) names the real project directory. Several checkouts of one
// analysis use this to share a results database.
func ResolveProjectDir(path string) string {
	if path == "" {
		path = "."
	}
	path = filepath.Clean(path)
	if filepath.Base(path) != ProjectDirName {
		path = filepath.Join(path, ProjectDirName)
	}
	return followRedirect(path)
}

func followRedirect(dir string) string {
	content, err := os.ReadFile(filepath.Join(dir, "redirect")) //nolint:gosec // redirect lives inside the project dir
	if err != nil {
		return dir
	}
	target := strings.TrimSpace(string(content))
	if target == "" {
		return dir
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	return filepath.Clean(filepath.Join(dir, target))
}

// ResultsDB returns the results database path for a project directory.
func ResultsDB(projectDir string) string {
	return filepath.Join(projectDir, ResultsDBName)
}

// CardFileName returns the file name of a channel's datacard.
func CardFileName(channel string) string {
	return cardPrefix + channel + cardExt
}

// CardFile returns the datacard path of a channel inside dir.
func CardFile(dir, channel string) string {
	return filepath.Join(dir, CardFileName(channel))
}

// ChannelFromCard recovers the channel from a datacard file name. ok is
// false for names that do not follow the datacard_<channel>.txt pattern.
func ChannelFromCard(path string) (string, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, cardPrefix) || !strings.HasSuffix(base, cardExt) {
		return "", false
	}
	ch := strings.TrimSuffix(strings.TrimPrefix(base, cardPrefix), cardExt)
	return ch, ch != ""
}

func stem(card string) string {
	return strings.TrimSuffix(card, filepath.Ext(card))
}

// JobWorkspaceFile returns the workspace a fit job for card and method
// builds. Jobs never share a workspace so they can run concurrently.
func JobWorkspaceFile(card, method string) string {
	return stem(card) + "_" + method + ".root"
}

// LogFile returns the fit log written for card and method.
func LogFile(card, method string) string {
	return stem(card) + "_" + method + ".log"
}

// ScriptFile returns the job script generated for card and method.
func ScriptFile(card, method string) string {
	return stem(card) + "_" + method + ".sh"
}
