package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	// Test with memory DB
	db, err := Connect("file::memory:?cache=shared")
	assert.NoError(t, err)
	assert.NotNil(t, db)

	// Test with file DB
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")
	db, err = Connect(dbPath)
	require.NoError(t, err)
	require.NotNil(t, db)
	require.NoError(t, db.Exec("CREATE TABLE probe (id INTEGER)").Error)
	assert.FileExists(t, dbPath)
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open("oracle", "whatever")
	assert.Error(t, err)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, "file::memory:", sqliteDSN("file::memory:"))
	assert.Equal(t, "a.db?_busy_timeout=5000&_journal_mode=WAL", sqliteDSN("a.db"))
	assert.Equal(t, "a.db?cache=shared&_busy_timeout=5000&_journal_mode=WAL", sqliteDSN("a.db?cache=shared"))
}
