package migrations

import "embed"

// FS holds the versioned schema, applied by cmd/migrate and db.Migrate.
//
//go:embed *.sql
var FS embed.FS
