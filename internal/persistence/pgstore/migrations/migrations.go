// Package migrations embeds the Postgres chunk schema for goose.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
