// Package bridgedb holds all the migrations for the bridge validator's
// persistence schema.
package bridgedb

import (
	"github.com/uptrace/bun/migrate"
)

// Migrations is the collection of all migrations for the bridge validator
// database.
var Migrations = migrate.NewMigrations()
