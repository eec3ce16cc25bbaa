// Package templates embeds the shell script templates used for fit jobs.
package templates

import (
	"embed"
	"io/fs"
)

// FitJob is the template for one fit job script.
const FitJob = "jobs/fit.sh.tmpl"

// jobTemplates embeds the job script templates:
//   - jobs/fit.sh.tmpl builds the workspace and runs one fit method
//
//go:embed jobs
var jobTemplates embed.FS

// JobsFS returns the embedded filesystem containing the job templates.
func JobsFS() fs.FS {
	return jobTemplates
}
