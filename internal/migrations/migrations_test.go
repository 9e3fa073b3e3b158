package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/internal/database"
)

func TestRunIsIdempotent(t *testing.T) {
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Run(db))
	require.NoError(t, Run(db))

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name`))
	for _, want := range []string{"categories", "customers", "pharmacies", "products", "purchase_items", "purchases", "sale_items", "sales", "sessions", "suppliers", "users"} {
		assert.Contains(t, tables, want)
	}
}
