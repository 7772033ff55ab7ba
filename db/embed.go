// Package db embeds the PostgreSQL migrations.
package db

import "embed"

// Migrations holds numbered SQL files applied in name order. A file is
// applied once; its name is recorded in schema_migrations.
//
//go:embed migrations/*.sql
var Migrations embed.FS
