package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sqlite/002_add_index.sql": {Data: []byte("CREATE INDEX idx_things_name ON things(name);")},
		"sqlite/001_things.sql":    {Data: []byte("CREATE TABLE things (id INTEGER PRIMARY KEY, name TEXT);")},
		"sqlite/README.md":         {Data: []byte("not a migration")},
	}
}

func TestLoadMigrations_SortsAndNames(t *testing.T) {
	migrations, err := LoadMigrations(testFS(), "sqlite")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "things", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "add_index", migrations[1].Name)
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"m/init.sql": {Data: []byte("")}}, "m")
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"m/001_a.sql": {Data: []byte("")},
		"m/1_b.sql":   {Data: []byte("")},
	}, "m")
	assert.Error(t, err)
}

func TestRunMigrations_SQLiteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	db, err := OpenSQLite(ctx, SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")}, logger)
	require.NoError(t, err)
	defer db.Close()

	migrator := NewMigrator(db, DialectSQLite, logger)
	require.NoError(t, migrator.RunMigrations(ctx, testFS(), "sqlite"))
	require.NoError(t, migrator.RunMigrations(ctx, testFS(), "sqlite"))

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	_, err = db.ExecContext(ctx, "INSERT INTO things (name) VALUES ('x')")
	assert.NoError(t, err)
}
