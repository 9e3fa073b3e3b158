package domain

type User struct {
	ID        string `json:"id" db:"id"`
	Email     string `json:"email" db:"email"`
	Password  string `json:"password,omitempty" db:"password"`
	CreatedAt string `json:"created_at,omitempty" db:"created_at"`
}

// SignUpRequest registers a login together with its pharmacy profile.
type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	Name        string `json:"name" validate:"required,min=2"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	Description string `json:"description"`
	Owner       string `json:"owner,omitempty" validate:"omitempty,min=2"`
}
