package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the Postgres schema steps, applied by `migrate` and at startup.
var Migrations = migrate.NewMigrations()
