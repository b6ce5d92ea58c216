// Package sqlbase provides the base functionality for SQL database persistence.
package sqlbase

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL engines.
// Queries in this package are written with ? placeholders.
type Dialect struct {
	Name string
	// Numbered rewrites ? into $1, $2, ... when set.
	Numbered bool
	// MigrationsTable is the DDL for the schema_migrations bookkeeping table.
	MigrationsTable string
}

var Postgres = Dialect{
	Name:     "postgres",
	Numbered: true,
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`,
}

var SQLite = Dialect{
	Name: "sqlite",
	MigrationsTable: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`,
}

// Rebind converts ? placeholders for the dialect. Placeholders inside quoted
// literals are left alone.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var b strings.Builder

	b.Grow(len(query) + 8)

	n := 0
	inQuote := false

	for i := 0; i < len(query); i++ {
		c := query[i]

		switch {
		case c == '\'':
			inQuote = !inQuote

			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++

			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}
