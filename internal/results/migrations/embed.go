// Package migrations embeds the results database schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
