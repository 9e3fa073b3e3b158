package migrations

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// schema is portable between SQLite and Postgres: ids are UUID strings and
// timestamps are "YYYY-MM-DD HH:MM:SS" text so they sort lexically.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
            id TEXT PRIMARY KEY,
            email TEXT NOT NULL UNIQUE,
            password TEXT NOT NULL,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
	`CREATE TABLE IF NOT EXISTS pharmacies (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL UNIQUE,
            name TEXT NOT NULL,
            owner_name TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            logo_url TEXT NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT TRUE,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id)
        );`,
	`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            user_id TEXT NOT NULL,
            created_at TEXT NOT NULL,
            expires_at TEXT NOT NULL,
            revoked_at TEXT,
            FOREIGN KEY(user_id) REFERENCES users(id)
        );`,
	`CREATE INDEX IF NOT EXISTS sessions_user_id_idx ON sessions(user_id);`,
	`CREATE TABLE IF NOT EXISTS categories (
            id TEXT PRIMARY KEY,
            pharmacy_id TEXT NOT NULL,
            name TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        );`,
	`CREATE TABLE IF NOT EXISTS products (
            id TEXT PRIMARY KEY,
            pharmacy_id TEXT NOT NULL,
            name TEXT NOT NULL,
            scientific_name TEXT NOT NULL DEFAULT '',
            barcode TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL DEFAULT '',
            manufacturer TEXT NOT NULL DEFAULT '',
            price DOUBLE PRECISION NOT NULL,
            cost_price DOUBLE PRECISION NOT NULL DEFAULT 0,
            stock BIGINT NOT NULL DEFAULT 0,
            min_stock BIGINT NOT NULL DEFAULT 0,
            max_stock BIGINT NOT NULL DEFAULT 0,
            expiry_date TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        );`,
	`CREATE INDEX IF NOT EXISTS products_pharmacy_id_idx ON products(pharmacy_id);`,
	`CREATE TABLE IF NOT EXISTS customers (
            id TEXT PRIMARY KEY,
            pharmacy_id TEXT NOT NULL,
            name TEXT NOT NULL,
            phone TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            loyalty_points BIGINT NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        );`,
	`CREATE TABLE IF NOT EXISTS suppliers (
            id TEXT PRIMARY KEY,
            pharmacy_id TEXT NOT NULL,
            name TEXT NOT NULL,
            contact_person TEXT NOT NULL DEFAULT '',
            phone TEXT NOT NULL DEFAULT '',
            email TEXT NOT NULL DEFAULT '',
            address TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        );`,
	`CREATE TABLE IF NOT EXISTS sales (
            id TEXT PRIMARY KEY,
            pharmacy_id TEXT NOT NULL,
            customer_id TEXT,
            total_amount DOUBLE PRECISION NOT NULL,
            discount DOUBLE PRECISION NOT NULL DEFAULT 0,
            payment_method TEXT NOT NULL DEFAULT 'cash',
            status TEXT NOT NULL DEFAULT 'completed',
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id),
            FOREIGN KEY(customer_id) REFERENCES customers(id)
        );`,
	`CREATE TABLE IF NOT EXISTS sale_items (
            id TEXT PRIMARY KEY,
            sale_id TEXT NOT NULL,
            product_id TEXT NOT NULL,
            quantity BIGINT NOT NULL,
            price DOUBLE PRECISION NOT NULL,
            subtotal DOUBLE PRECISION NOT NULL,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(sale_id) REFERENCES sales(id),
            FOREIGN KEY(product_id) REFERENCES products(id)
        );`,
	`CREATE TABLE IF NOT EXISTS purchases (
            id TEXT PRIMARY KEY,
            pharmacy_id TEXT NOT NULL,
            supplier_id TEXT NOT NULL,
            total_amount DOUBLE PRECISION NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id),
            FOREIGN KEY(supplier_id) REFERENCES suppliers(id)
        );`,
	`CREATE TABLE IF NOT EXISTS purchase_items (
            id TEXT PRIMARY KEY,
            purchase_id TEXT NOT NULL,
            product_id TEXT NOT NULL,
            quantity BIGINT NOT NULL,
            cost_price DOUBLE PRECISION NOT NULL,
            subtotal DOUBLE PRECISION NOT NULL,
            created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(purchase_id) REFERENCES purchases(id),
            FOREIGN KEY(product_id) REFERENCES products(id)
        );`,
}

// Run creates the database schema required by the data service.
func Run(db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
