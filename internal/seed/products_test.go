package seed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"novapharm/m/domain"
	"novapharm/m/internal/database"
	"novapharm/m/internal/migrations"
)

func newDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := database.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, migrations.Run(db))
	_, err = db.Exec(`INSERT INTO users (id, email, password) VALUES ('ph-1', 'a@example.com', 'x')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pharmacies (id, user_id, name) VALUES ('ph-1', 'ph-1', 'Corner')`)
	require.NoError(t, err)
	return db
}

const catalog = `name,scientific_name,barcode,category,price,cost_price,stock,min_stock,expiry_date
Paracetamol 500mg,Paracetamol,PCM00000001,Analgesic,2.50,1.10,40,10,2030-01-31
Ibuprofen 200mg,Ibuprofen,,Analgesic,3.75,,12,,
,Nameless,X,,1,,,,
Broken,Broken,BRK00000001,,abc,,,,
`

func TestLoadProducts(t *testing.T) {
	db := newDB(t)
	res, err := LoadProducts(context.Background(), db, nil, "ph-1", strings.NewReader(catalog))
	require.NoError(t, err)
	assert.Equal(t, Result{Inserted: 2, Skipped: 2}, res)

	var products []domain.Product
	require.NoError(t, db.Select(&products, `SELECT * FROM products ORDER BY name`))
	require.Len(t, products, 2)

	assert.Equal(t, "Ibuprofen 200mg", products[0].Name)
	assert.NotEmpty(t, products[0].Barcode)
	assert.Equal(t, int64(12), products[0].Stock)

	assert.Equal(t, "Paracetamol 500mg", products[1].Name)
	assert.Equal(t, "PCM00000001", products[1].Barcode)
	assert.Equal(t, 2.5, products[1].Price)
	assert.Equal(t, int64(10), products[1].MinStock)
	assert.Equal(t, "2030-01-31", products[1].ExpiryDate)
	assert.Equal(t, "ph-1", products[1].PharmacyID)
}

func TestLoadProductsSkipsKnownBarcodes(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	_, err := LoadProducts(ctx, db, nil, "ph-1", strings.NewReader(catalog))
	require.NoError(t, err)

	res, err := LoadProducts(ctx, db, nil, "ph-1", strings.NewReader("name,barcode,price\nParacetamol 500mg,PCM00000001,2.50\n"))
	require.NoError(t, err)
	assert.Equal(t, Result{Skipped: 1}, res)
}

func TestLoadProductsRejectsBadInput(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	_, err := LoadProducts(ctx, db, nil, "nobody", strings.NewReader(catalog))
	assert.ErrorIs(t, err, ErrUnknownPharmacy)

	_, err = LoadProducts(ctx, db, nil, "ph-1", strings.NewReader("name,stock\nA,1\n"))
	assert.ErrorContains(t, err, `missing "price"`)
}

func TestLoadProductsFile(t *testing.T) {
	db := newDB(t)
	path := filepath.Join(t.TempDir(), "catalog.csv")
	require.NoError(t, os.WriteFile(path, []byte(catalog), 0o600))

	res, err := LoadProductsFile(context.Background(), db, nil, "ph-1", path)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)

	_, err = LoadProductsFile(context.Background(), db, nil, "ph-1", filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
