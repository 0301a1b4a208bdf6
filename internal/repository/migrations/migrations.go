// Package migrations embeds the reservation store schema.
package migrations

import "embed"

// FS holds the ordered *.sql files applied by database.Migrate
//
//go:embed *.sql
var FS embed.FS
