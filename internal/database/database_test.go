package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSQLiteMemory(t *testing.T) {
	db, err := Connect("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.Get(&one, `SELECT 1`))
	assert.Equal(t, 1, one)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestConnectUnknownDriver(t *testing.T) {
	_, err := Connect("oracle", "x")
	assert.Error(t, err)
}
