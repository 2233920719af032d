// Package migrations embeds the schema and seed SQL applied by internal/migrate.
package migrations

import (
	"embed"
	"io/fs"
)

//go:embed sql/*.sql seeds/*.sql
var files embed.FS

// Schema returns the versioned .up.sql/.down.sql files.
func Schema() fs.FS {
	sub, _ := fs.Sub(files, "sql")
	return sub
}

// Seeds returns the idempotent seed files.
func Seeds() fs.FS {
	sub, _ := fs.Sub(files, "seeds")
	return sub
}
