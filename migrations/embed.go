// Package migrations embeds the goose SQL migrations.
//
// local/ holds the device cache schema. server/ holds the remote table
// schema shared by the SQLite and Postgres backends, so it sticks to
// column types both dialects accept.
package migrations

import "embed"

//go:embed local/*.sql server/*.sql
var FS embed.FS
