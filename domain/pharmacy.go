package domain

// Pharmacy is the business profile owned by a single login. Its ID is always
// the owning user's ID.
type Pharmacy struct {
	ID          string `db:"id" json:"id"`
	UserID      string `db:"user_id" json:"user_id"`
	Name        string `db:"name" json:"name"`
	Owner       string `db:"owner_name" json:"owner_name"`
	Email       string `db:"email" json:"email"`
	Phone       string `db:"phone" json:"phone"`
	Address     string `db:"address" json:"address"`
	Description string `db:"description" json:"description"`
	LogoURL     string `db:"logo_url" json:"logo_url"`
	IsActive    bool   `db:"is_active" json:"is_active"`
	CreatedAt   string `db:"created_at" json:"created_at"`
	UpdatedAt   string `db:"updated_at" json:"updated_at"`
}

// DisplayName falls back to the contact email when the profile has no name.
func (p *Pharmacy) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Email
}

// OwnerName falls back to the display name when no owner was recorded.
func (p *Pharmacy) OwnerName() string {
	if p == nil {
		return ""
	}
	if p.Owner != "" {
		return p.Owner
	}
	return p.DisplayName()
}

// PharmacyUpdate carries the settings-page fields of a profile.
type PharmacyUpdate struct {
	Name        string `json:"name" validate:"required,min=2"`
	Owner       string `json:"owner_name" validate:"omitempty,min=2"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Description string `json:"description"`
	LogoURL     string `json:"logo_url" validate:"omitempty,url"`
}
