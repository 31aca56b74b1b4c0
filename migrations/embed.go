// Package migrations embeds the SQL migration files into the binary.
//
// The files sit at the root of FS, which is what database.DB.Migrate expects.
package migrations

import "embed"

// FS holds every *.sql file in this directory.
//
//go:embed *.sql
var FS embed.FS
