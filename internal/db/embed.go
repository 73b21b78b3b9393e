package db

import _ "embed"

//go:embed migrations/0001_initial.sql
var migration0001 string

// Migrations is the full ordered migration set for the sync engine schema
// (spec.md §6.2).
var Migrations = []Migration{
	{ID: "0001_initial", SQL: migration0001},
}
