// Package migrations embeds the schema for the SQL-backed approval stores.
package migrations

import "embed"

// FS holds one directory of numbered migrations per SQL dialect
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

const (
	SQLiteDir   = "sqlite"
	PostgresDir = "postgres"
)
