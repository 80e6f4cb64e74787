// Package dbmigrations exposes the embedded SQL migrations.
package dbmigrations

import "embed"

// Files contains the SQL migrations bundled into the binary.
//
//go:embed *.sql
var Files embed.FS
