package database

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisteredMigrations(t *testing.T) {
	all := GetMigrations()
	require.NotEmpty(t, all)

	first := all[0]
	assert.Equal(t, 1, first.Version)
	assert.Equal(t, "init", first.Name)
	assert.Equal(t, "000001_init", first.String())
	assert.True(t, strings.Contains(first.UpScript, "CREATE TABLE IF NOT EXISTS user_profiles"))
	assert.True(t, strings.Contains(first.DownScript, "DROP TABLE IF EXISTS posts"))

	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Version, all[i].Version)
	}
}

func TestGetMigrationByVersion(t *testing.T) {
	assert.NotNil(t, GetMigrationByVersion(1))
	assert.Nil(t, GetMigrationByVersion(999999))
}

func TestValidateAppliedVersions(t *testing.T) {
	registered := []Migration{{Version: 1, Name: "init"}, {Version: 2, Name: "next"}}

	assert.NoError(t, validateAppliedVersions(nil, registered))
	assert.NoError(t, validateAppliedVersions([]int{1, 2}, registered))

	err := validateAppliedVersions([]int{1, 7, 5}, registered)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "000005, 000007")
}

func TestMigrationStore_MissingTableIsEmpty(t *testing.T) {
	db := openSQLite(t)

	applied, err := NewMigrationStore(db).GetAppliedMigrations(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrationStore_ApplyAndRemove(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, ensureMigrationLog(ctx, db))
	store := NewMigrationStore(db)

	require.NoError(t, store.ApplyMigration(ctx, 1, "init", "CREATE TABLE scratch (id INTEGER)"))
	applied, err := store.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)
	assert.True(t, db.Migrator().HasTable("scratch"))

	require.NoError(t, store.RemoveMigration(ctx, 1, "DROP TABLE scratch"))
	applied, err = store.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.False(t, db.Migrator().HasTable("scratch"))

	assert.ErrorContains(t, store.RemoveMigration(ctx, 1, ""), "has not been applied")
}

func TestMigrationStore_FailedScriptIsNotLogged(t *testing.T) {
	db := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, ensureMigrationLog(ctx, db))
	store := NewMigrationStore(db)

	require.Error(t, store.ApplyMigration(ctx, 1, "broken", "CREATE TABLE"))
	applied, err := store.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

// useMigrations swaps the registry for sqlite-compatible scripts.
func useMigrations(t *testing.T, registered []Migration) {
	t.Helper()
	saved := migrations
	migrations = registered
	t.Cleanup(func() { migrations = saved })
}

func scratchMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "boards", UpScript: "CREATE TABLE boards (id INTEGER)", DownScript: "DROP TABLE boards"},
		{Version: 2, Name: "pins", UpScript: "CREATE TABLE pins (id INTEGER)", DownScript: "DROP TABLE pins"},
	}
}

func TestRunMigrationsAndRollback(t *testing.T) {
	useMigrations(t, scratchMigrations())
	db := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, RunMigrations(ctx, db))
	require.NoError(t, RunMigrations(ctx, db), "a second run has nothing to do")
	assert.True(t, db.Migrator().HasTable("boards"))
	assert.True(t, db.Migrator().HasTable("pins"))

	m, err := RollbackMigration(ctx, db, 0)
	require.NoError(t, err)
	assert.Equal(t, "000002_pins", m.String())
	assert.False(t, db.Migrator().HasTable("pins"))
	assert.True(t, db.Migrator().HasTable("boards"))

	_, err = RollbackMigration(ctx, db, 2)
	assert.ErrorContains(t, err, "has not been applied")

	m, err = RollbackMigration(ctx, db, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Version)
	assert.False(t, db.Migrator().HasTable("boards"))

	_, err = RollbackMigration(ctx, db, 0)
	assert.ErrorContains(t, err, "no migration has been applied")
}

func TestRunMigrations_RejectsUnknownLoggedVersion(t *testing.T) {
	useMigrations(t, scratchMigrations())
	db := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, ensureMigrationLog(ctx, db))
	require.NoError(t, db.Create(&MigrationLog{Version: 9, Name: "future"}).Error)

	assert.ErrorContains(t, RunMigrations(ctx, db), "000009")
}

func TestPendingMigrations(t *testing.T) {
	registered := scratchMigrations()
	assert.Len(t, pendingMigrations(nil, registered), 2)
	pending := pendingMigrations([]int{1}, registered)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Version)
	assert.Empty(t, pendingMigrations([]int{1, 2}, registered))
}

func TestRollbackMigration_Unknown(t *testing.T) {
	db := openSQLite(t)
	_, err := RollbackMigration(context.Background(), db, 424242)
	assert.ErrorContains(t, err, "not found")
}
