package storage

import (
	_ "embed"
)

// ---------------------------------------------------------------------------
// Schema version
// ---------------------------------------------------------------------------

// SchemaVersion is the current database schema version.
const SchemaVersion = 2

//go:embed schema.sql
var schemaSQL string

// GetSchema returns the full embedded SQL schema as a string.
func GetSchema() string {
	return schemaSQL
}

// ---------------------------------------------------------------------------
// Migration support
// ---------------------------------------------------------------------------

// Migration describes a single schema migration. Migrations are ordered by
// Version and are idempotent.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the ordered list of all schema migrations. Any whose
// Version is already recorded in schema_migrations is skipped.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: entities, relationships, embeddings",
		SQL:         schemaSQL,
	},
	{
		Version:     2,
		Description: "Index relationship validity windows for time-bounded neighbourhood queries",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_relationships_valid ON relationships(valid_start, valid_end);
CREATE INDEX IF NOT EXISTS idx_embeddings_model    ON embeddings(model);
`,
	},
}
