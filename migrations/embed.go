// Package migrations embeds the versioned SQL schema of the reconciliation
// service so that the server and the migrate CLI apply the same files.
package migrations

import "embed"

// FS holds every *.up.sql and *.down.sql file of this directory
//
//go:embed *.sql
var FS embed.FS
