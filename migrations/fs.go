// Package migrations embeds the goose SQL migrations for the service schema.
package migrations

import "embed"

// FS holds the ordered goose migrations under sql/.
//
//go:embed sql/*.sql
var FS embed.FS

// Dir is the directory inside FS that goose reads from.
const Dir = "sql"
