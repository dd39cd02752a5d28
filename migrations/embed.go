// Package migrations holds the goose migrations of the ClickHouse readings journal.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
