// Package migrations embeds the SQL schema files applied by "api migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Files lists the migrations in apply order.
var Files = []string{
	"001_create_work_items.sql",
	"002_create_assignments.sql",
}
