// Package migrations embeds the PostgreSQL schema for the role store.
package migrations

import "embed"

// FS holds the goose migration files.
//
//go:embed *.sql
var FS embed.FS
