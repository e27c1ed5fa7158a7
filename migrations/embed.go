// Package migrations embeds the SQL schema migrations for braidarr.
package migrations

import "embed"

//go:embed *.up.sql
var FS embed.FS
