package cliutil

import (
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialectorFor(t *testing.T) {
	assert := assert.New(t)

	_, isSqlite, err := dialectorFor("postgres://u:p@localhost:5432/warden")
	assert.NoError(err)
	assert.False(isSqlite)

	_, isSqlite, err = dialectorFor("postgres=host=localhost dbname=warden")
	assert.NoError(err)
	assert.False(isSqlite)

	_, isSqlite, err = dialectorFor("sqlite://:memory:")
	assert.NoError(err)
	assert.True(isSqlite)

	_, _, err = dialectorFor("mysql://localhost/warden")
	assert.Error(err)
}

func TestSetupDatabaseSqlite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "outcomes.db")
	db, err := SetupDatabase(slog.Default(), "sqlite://"+path, 10)
	require.NoError(t, err)

	sqldb, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqldb.Stats().MaxOpenConnections)
	assert.NoError(t, sqldb.Ping())
	assert.NoError(t, sqldb.Close())
}
