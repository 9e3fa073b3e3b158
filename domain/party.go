package domain

type Customer struct {
	ID            string `db:"id" json:"id"`
	PharmacyID    string `db:"pharmacy_id" json:"pharmacy_id"`
	Name          string `db:"name" json:"name"`
	Phone         string `db:"phone" json:"phone"`
	Email         string `db:"email" json:"email"`
	Address       string `db:"address" json:"address"`
	LoyaltyPoints int64  `db:"loyalty_points" json:"loyalty_points"`
	CreatedAt     string `db:"created_at" json:"created_at"`
	UpdatedAt     string `db:"updated_at" json:"updated_at"`
}

type Supplier struct {
	ID            string `db:"id" json:"id"`
	PharmacyID    string `db:"pharmacy_id" json:"pharmacy_id"`
	Name          string `db:"name" json:"name"`
	ContactPerson string `db:"contact_person" json:"contact_person"`
	Phone         string `db:"phone" json:"phone"`
	Email         string `db:"email" json:"email"`
	Address       string `db:"address" json:"address"`
	CreatedAt     string `db:"created_at" json:"created_at"`
	UpdatedAt     string `db:"updated_at" json:"updated_at"`
}
