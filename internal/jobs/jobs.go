// Package jobs turns datacards into fit job scripts and dispatches them,
// either locally or to a batch scheduler.
package jobs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/tzq-analysis/cardgen/internal/executor"
	"github.com/tzq-analysis/cardgen/internal/fitresult"
	"github.com/tzq-analysis/cardgen/internal/log"
	"github.com/tzq-analysis/cardgen/internal/paths"
	"github.com/tzq-analysis/cardgen/internal/templates"
)

// Options configures job planning.
type Options struct {
	Tools   executor.Tools
	Methods []string
	POIs    []POI

	// Setup lines run at the top of every script.
	Setup []string
}

// Job is one fit of one card with one method.
type Job struct {
	ID     string
	Card   string // card file name, relative to Dir
	Method string
	Dir    string // absolute working directory

	Script    string // absolute script path
	Log       string // absolute log path
	Workspace string // workspace file name, relative to Dir

	workspaceArgs []string
	combineArgs   []string
}

// Mode returns the result format the job's log contains.
func (j Job) Mode() fitresult.Mode {
	return ModeFor(j.Method)
}

// Plan creates one job per card and method. Cards are file names inside dir.
func Plan(dir string, cards []string, opts Options) ([]Job, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve job directory: %w", err)
	}
	if len(opts.Methods) == 0 {
		return nil, fmt.Errorf("plan jobs: no fit methods configured")
	}

	var jobs []Job
	for _, card := range cards {
		if _, err := os.Stat(filepath.Join(abs, card)); err != nil {
			return nil, fmt.Errorf("plan jobs: card %s: %w", card, err)
		}
		for _, method := range opts.Methods {
			wsArgs, combineArgs, err := methodArgs(method, opts.POIs)
			if err != nil {
				return nil, fmt.Errorf("plan jobs for %s: %w", card, err)
			}
			jobs = append(jobs, Job{
				ID:            uuid.NewString(),
				Card:          card,
				Method:        method,
				Dir:           abs,
				Script:        filepath.Join(abs, paths.ScriptFile(card, method)),
				Log:           filepath.Join(abs, paths.LogFile(card, method)),
				Workspace:     paths.JobWorkspaceFile(card, method),
				workspaceArgs: wsArgs,
				combineArgs:   combineArgs,
			})
		}
	}
	log.Debug(log.CatJobs, "planned jobs", "cards", len(cards), "jobs", len(jobs))
	return jobs, nil
}

var scriptTemplate = template.Must(
	template.New("fit").
		Funcs(template.FuncMap{"shellquote": shellQuote}).
		ParseFS(templates.JobsFS(), templates.FitJob),
)

type scriptData struct {
	JobID          string
	Card           string
	Method         string
	Dir            string
	Setup          []string
	Text2Workspace string
	Workspace      string
	WorkspaceArgs  []string
	Combine        string
	CombineArgs    []string
	Log            string
}

// Render returns the shell script of job.
func Render(job Job, opts Options) ([]byte, error) {
	tools := opts.Tools.WithDefaults()
	data := scriptData{
		JobID:          job.ID,
		Card:           job.Card,
		Method:         job.Method,
		Dir:            job.Dir,
		Setup:          opts.Setup,
		Text2Workspace: tools.Text2Workspace,
		Workspace:      job.Workspace,
		WorkspaceArgs:  job.workspaceArgs,
		Combine:        tools.Combine,
		CombineArgs:    job.combineArgs,
		Log:            filepath.Base(job.Log),
	}
	var buf bytes.Buffer
	if err := scriptTemplate.ExecuteTemplate(&buf, filepath.Base(templates.FitJob), data); err != nil {
		return nil, fmt.Errorf("render job script for %s: %w", job.Card, err)
	}
	return buf.Bytes(), nil
}

// WriteScripts renders every job and writes its executable script.
func WriteScripts(jobs []Job, opts Options) error {
	for _, job := range jobs {
		script, err := Render(job, opts)
		if err != nil {
			return err
		}
		if err := os.WriteFile(job.Script, script, 0o755); err != nil { // #nosec G306 -- job scripts must be executable
			return fmt.Errorf("write job script: %w", err)
		}
		log.Debug(log.CatJobs, "wrote job script", "script", job.Script, "job", job.ID)
	}
	return nil
}

var shellSafe = regexp.MustCompile(`^[A-Za-z0-9_./=:,+@%-]+$`)

// shellQuote quotes s for a POSIX shell when needed.
func shellQuote(s string) string {
	if shellSafe.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
