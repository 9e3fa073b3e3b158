package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"novapharm/m/internal/barcode"
)

var ErrUnknownPharmacy = errors.New("seed: pharmacy does not exist")

// Result counts what a catalog load did.
type Result struct {
	Inserted int
	Skipped  int
}

// LoadProductsFile ingests a product catalog CSV for one pharmacy.
func LoadProductsFile(ctx context.Context, db *sqlx.DB, logger *zap.Logger, pharmacyID, csvPath string) (Result, error) {
	file, err := os.Open(csvPath)
	if err != nil {
		return Result{}, fmt.Errorf("open product catalog %s: %w", csvPath, err)
	}
	defer file.Close()
	return LoadProducts(ctx, db, logger, pharmacyID, file)
}

// LoadProducts reads a CSV whose header names product columns (name and
// price are required) and inserts every valid row. Rows whose barcode the
// pharmacy already stocks are skipped, so a catalog can be loaded twice.
func LoadProducts(ctx context.Context, db *sqlx.DB, logger *zap.Logger, pharmacyID string, r io.Reader) (Result, error) {
	var res Result
	if logger == nil {
		logger = zap.NewNop()
	}

	var exists int
	if err := db.GetContext(ctx, &exists, db.Rebind(`SELECT COUNT(*) FROM pharmacies WHERE id = ?`), pharmacyID); err != nil {
		return res, fmt.Errorf("look up pharmacy: %w", err)
	}
	if exists == 0 {
		return res, ErrUnknownPharmacy
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return res, fmt.Errorf("read product header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"name", "price"} {
		if _, ok := cols[required]; !ok {
			return res, fmt.Errorf("product header is missing %q", required)
		}
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("start product transaction: %w", err)
	}
	defer tx.Rollback()

	insert, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO products
        (id, pharmacy_id, name, scientific_name, barcode, category, manufacturer, price, cost_price, stock, min_stock, max_stock, expiry_date, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return res, fmt.Errorf("prepare product insert: %w", err)
	}
	defer insert.Close()

	now := time.Now().UTC().Format("2006-01-02 15:04:05")
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn("unable to read product row", zap.Int("line", line), zap.Error(err))
			res.Skipped++
			continue
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}

		row, err := parseRow(field)
		if err != nil {
			logger.Warn("skipping product row", zap.Int("line", line), zap.Error(err))
			res.Skipped++
			continue
		}
		if row.barcode == "" {
			if row.barcode, err = barcode.Generate(barcode.DefaultPrefix); err != nil {
				return res, err
			}
		} else {
			var dup int
			if err := tx.GetContext(ctx, &dup, tx.Rebind(`SELECT COUNT(*) FROM products WHERE pharmacy_id = ? AND barcode = ?`), pharmacyID, row.barcode); err != nil {
				return res, fmt.Errorf("check barcode %s: %w", row.barcode, err)
			}
			if dup > 0 {
				res.Skipped++
				continue
			}
		}

		if _, err := insert.ExecContext(ctx, uuid.NewString(), pharmacyID, row.name, field("scientific_name"), row.barcode,
			field("category"), field("manufacturer"), row.price, row.costPrice, row.stock, row.minStock, row.maxStock,
			field("expiry_date"), now, now); err != nil {
			return res, fmt.Errorf("insert product %s: %w", row.name, err)
		}
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("commit product seed: %w", err)
	}
	logger.Info("seeded product catalog", zap.String("pharmacy_id", pharmacyID), zap.Int("inserted", res.Inserted), zap.Int("skipped", res.Skipped))
	return res, nil
}

type productRow struct {
	name      string
	barcode   string
	price     float64
	costPrice float64
	stock     int64
	minStock  int64
	maxStock  int64
}

func parseRow(field func(string) string) (productRow, error) {
	row := productRow{name: field("name"), barcode: field("barcode")}
	if row.name == "" {
		return row, errors.New("name is empty")
	}
	var err error
	if row.price, err = strconv.ParseFloat(field("price"), 64); err != nil || row.price < 0 {
		return row, fmt.Errorf("invalid price %q", field("price"))
	}
	if row.costPrice, err = optionalFloat(field("cost_price")); err != nil {
		return row, err
	}
	for name, dst := range map[string]*int64{"stock": &row.stock, "min_stock": &row.minStock, "max_stock": &row.maxStock} {
		if *dst, err = optionalInt(field(name)); err != nil {
			return row, fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return row, nil
}

func optionalFloat(raw string) (float64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

func optionalInt(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid count %q", raw)
	}
	return v, nil
}
