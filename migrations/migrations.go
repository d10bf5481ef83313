// Package migrations embeds the SQL schema migrations for the flash-sale
// service.
package migrations

import "embed"

// FS holds all .up.sql migration files.
//
//go:embed *.up.sql
var FS embed.FS
