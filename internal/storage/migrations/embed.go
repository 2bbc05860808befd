package migrations

import "embed"

// FS embeds the SQL migrations of both engines, one directory each.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Engine directories inside FS
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)
