package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMigrationSource_SplitsUpAndDown(t *testing.T) {
	sql := `-- +migrate Down
DROP TABLE widgets;
-- +migrate Up
CREATE TABLE widgets (id bigint);
`
	migs, err := buildMigrationSource([]Migration{{ID: "0001_widgets", SQL: sql}})
	require.NoError(t, err)
	require.Len(t, migs.Migrations, 1)

	m := migs.Migrations[0]
	assert.Equal(t, "0001_widgets", m.Id)
	assert.Equal(t, []string{"CREATE TABLE widgets (id bigint);"}, m.Up)
	assert.Equal(t, []string{"DROP TABLE widgets;"}, m.Down)
}

func TestBuildMigrationSource_MissingSeparatorFails(t *testing.T) {
	_, err := buildMigrationSource([]Migration{{ID: "0002_broken", SQL: "CREATE TABLE x (id bigint);"}})
	require.Error(t, err)
}

func TestBuildMigrationSource_PreservesOrder(t *testing.T) {
	mk := func(id string) Migration {
		return Migration{ID: id, SQL: "-- +migrate Down\n-- +migrate Up\nSELECT 1;\n"}
	}
	migs, err := buildMigrationSource([]Migration{mk("0001"), mk("0002"), mk("0003")})
	require.NoError(t, err)
	require.Len(t, migs.Migrations, 3)
	assert.Equal(t, "0001", migs.Migrations[0].Id)
	assert.Equal(t, "0002", migs.Migrations[1].Id)
	assert.Equal(t, "0003", migs.Migrations[2].Id)
}

func TestEmbeddedMigrations_ParseCleanly(t *testing.T) {
	_, err := buildMigrationSource(Migrations)
	require.NoError(t, err)
}
