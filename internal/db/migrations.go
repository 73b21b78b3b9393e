package db

import (
	"database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/chainsync-io/evmsync/internal/logger"
)

const (
	upDownSeparator   = "-- +migrate Up"
	downMarker        = "-- +migrate Down"
	noLimitMigrations = 0
)

// Migration is one embedded SQL file containing both directions, separated
// by the sql-migrate convention markers.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies every pending migration against the postgres
// dialect. Migration mechanics themselves are an external collaborator per
// spec.md §1; this runner only needs to exist and reach the required end
// state (the schema in spec.md §6.2).
func RunMigrations(db *sql.DB, migrations []Migration, log *logger.Logger) error {
	return RunMigrationsMax(db, migrations, migrate.Up, noLimitMigrations, log)
}

// RunMigrationsMax mirrors the teacher's extended entrypoint, allowing
// direction and a migration-count limit for tests and partial rollouts.
func RunMigrationsMax(db *sql.DB, migrationsParam []Migration, dir migrate.MigrationDirection, maxMigrations int, log *logger.Logger) error {
	migs, err := buildMigrationSource(migrationsParam)
	if err != nil {
		return err
	}
	if maxMigrations != noLimitMigrations {
		migrate.SetIgnoreUnknown(true)
	}

	var names strings.Builder
	for _, m := range migs.Migrations {
		names.WriteString(m.Id + ", ")
	}

	log.Debugw("running migrations", "max", maxMigrations, "count", len(migs.Migrations), "ids", names.String())

	n, err := migrate.ExecMax(db, "postgres", migs, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("db: migration failed (max %d/%d, ids %s): %w", maxMigrations, len(migs.Migrations), names.String(), err)
	}

	log.Infow("migrations applied", "count", n)
	return nil
}

// buildMigrationSource splits each embedded file on the sql-migrate Up/Down
// markers into the in-memory source ExecMax consumes. Factored out of
// RunMigrationsMax so the splitting logic is testable without a database.
func buildMigrationSource(migrationsParam []Migration) (*migrate.MemoryMigrationSource, error) {
	migs := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	for _, m := range migrationsParam {
		parts := strings.SplitN(m.SQL, upDownSeparator, 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("db: migration %s missing %q separator", m.ID, upDownSeparator)
		}

		downSQL := parts[0]
		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = strings.TrimSpace(downSQL[idx+len(downMarker):])
		} else {
			downSQL = strings.TrimSpace(downSQL)
		}
		upSQL := strings.TrimSpace(parts[1])

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{upSQL},
			Down: []string{downSQL},
		})
	}

	return migs, nil
}
