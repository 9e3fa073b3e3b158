package domain

type Product struct {
	ID             string  `db:"id" json:"id"`
	PharmacyID     string  `db:"pharmacy_id" json:"pharmacy_id"`
	Name           string  `db:"name" json:"name"`
	ScientificName string  `db:"scientific_name" json:"scientific_name"`
	Barcode        string  `db:"barcode" json:"barcode"`
	Category       string  `db:"category" json:"category"`
	Manufacturer   string  `db:"manufacturer" json:"manufacturer"`
	Price          float64 `db:"price" json:"price"`
	CostPrice      float64 `db:"cost_price" json:"cost_price"`
	Stock          int64   `db:"stock" json:"stock"`
	MinStock       int64   `db:"min_stock" json:"min_stock"`
	MaxStock       int64   `db:"max_stock" json:"max_stock"`
	ExpiryDate     string  `db:"expiry_date" json:"expiry_date"`
	CreatedAt      string  `db:"created_at" json:"created_at"`
	UpdatedAt      string  `db:"updated_at" json:"updated_at"`
}

type Category struct {
	ID          string `db:"id" json:"id"`
	PharmacyID  string `db:"pharmacy_id" json:"pharmacy_id"`
	Name        string `db:"name" json:"name"`
	Description string `db:"description" json:"description"`
	CreatedAt   string `db:"created_at" json:"created_at"`
}

// StockAlert flags a product that is running low or close to expiry.
type StockAlert struct {
	ProductID  string `db:"id" json:"product_id"`
	Name       string `db:"name" json:"name"`
	Stock      int64  `db:"stock" json:"stock"`
	MinStock   int64  `db:"min_stock" json:"min_stock"`
	ExpiryDate string `db:"expiry_date" json:"expiry_date"`
	Reason     string `db:"reason" json:"reason"`
}

const (
	AlertLowStock = "low_stock"
	AlertExpiring = "expiring"
)
