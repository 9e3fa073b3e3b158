package domain

type Sale struct {
	ID            string  `db:"id" json:"id"`
	PharmacyID    string  `db:"pharmacy_id" json:"pharmacy_id"`
	CustomerID    *string `db:"customer_id" json:"customer_id,omitempty"`
	TotalAmount   float64 `db:"total_amount" json:"total_amount"`
	Discount      float64 `db:"discount" json:"discount"`
	PaymentMethod string  `db:"payment_method" json:"payment_method"`
	Status        string  `db:"status" json:"status"`
	CreatedAt     string  `db:"created_at" json:"created_at"`
}

type SaleItem struct {
	ID        string  `db:"id" json:"id"`
	SaleID    string  `db:"sale_id" json:"sale_id"`
	ProductID string  `db:"product_id" json:"product_id"`
	Quantity  int64   `db:"quantity" json:"quantity"`
	Price     float64 `db:"price" json:"price"`
	Subtotal  float64 `db:"subtotal" json:"subtotal"`
	CreatedAt string  `db:"created_at" json:"created_at"`
}

type Purchase struct {
	ID          string  `db:"id" json:"id"`
	PharmacyID  string  `db:"pharmacy_id" json:"pharmacy_id"`
	SupplierID  string  `db:"supplier_id" json:"supplier_id"`
	TotalAmount float64 `db:"total_amount" json:"total_amount"`
	Status      string  `db:"status" json:"status"`
	CreatedAt   string  `db:"created_at" json:"created_at"`
}

type PurchaseItem struct {
	ID         string  `db:"id" json:"id"`
	PurchaseID string  `db:"purchase_id" json:"purchase_id"`
	ProductID  string  `db:"product_id" json:"product_id"`
	Quantity   int64   `db:"quantity" json:"quantity"`
	CostPrice  float64 `db:"cost_price" json:"cost_price"`
	Subtotal   float64 `db:"subtotal" json:"subtotal"`
	CreatedAt  string  `db:"created_at" json:"created_at"`
}

type SaleItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

// SaleRequest is an invoice submitted from the sales page.
type SaleRequest struct {
	CustomerID    string            `json:"customer_id,omitempty"`
	Items         []SaleItemRequest `json:"items" validate:"required,min=1,dive"`
	Discount      float64           `json:"discount" validate:"gte=0"`
	PaymentMethod string            `json:"payment_method" validate:"omitempty,oneof=cash card transfer"`
}

type SaleReceipt struct {
	SaleID      string  `json:"sale_id"`
	Total       float64 `json:"total"`
	Discount    float64 `json:"discount"`
	FinalAmount float64 `json:"final_amount"`
	Items       int     `json:"items"`
}

// SalesSummary backs the reports page and dashboard cards.
type SalesSummary struct {
	TodayRevenue float64          `json:"today_revenue"`
	TodayCount   int64            `json:"today_count"`
	MonthRevenue float64          `json:"month_revenue"`
	MonthCount   int64            `json:"month_count"`
	TotalRevenue float64          `json:"total_revenue"`
	TopProducts  []ProductSummary `json:"top_products"`
}

type ProductSummary struct {
	ProductID string  `db:"product_id" json:"product_id"`
	Name      string  `db:"name" json:"name"`
	Quantity  int64   `db:"quantity" json:"quantity"`
	Revenue   float64 `db:"revenue" json:"revenue"`
}
