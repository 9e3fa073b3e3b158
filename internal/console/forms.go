package console

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type registerForm struct {
	PharmacyName string `validate:"required,min=2"`
	Owner        string `validate:"required,min=2"`
	Email        string `validate:"required,email"`
	Phone        string `validate:"required,min=10"`
	Address      string `validate:"required,min=5"`
	Password     string `validate:"required,min=8"`
	Confirm      string `validate:"required,eqfield=Password"`
}

type forgotForm struct {
	Email string `validate:"required,email"`
}

type productForm struct {
	Name           string  `validate:"required,min=2"`
	ScientificName string  `validate:"omitempty"`
	Barcode        string  `validate:"omitempty,min=8"`
	Category       string  `validate:"omitempty"`
	Manufacturer   string  `validate:"omitempty"`
	Price          float64 `validate:"gte=0"`
	CostPrice      float64 `validate:"gte=0"`
	Stock          int64   `validate:"gte=0"`
	MinStock       int64   `validate:"gte=0"`
	MaxStock       int64   `validate:"gte=0"`
	ExpiryDate     string  `validate:"omitempty,datetime=2006-01-02"`
}

func (f productForm) fields() map[string]any {
	return map[string]any{
		"name":            f.Name,
		"scientific_name": f.ScientificName,
		"barcode":         f.Barcode,
		"category":        f.Category,
		"manufacturer":    f.Manufacturer,
		"price":           f.Price,
		"cost_price":      f.CostPrice,
		"stock":           f.Stock,
		"min_stock":       f.MinStock,
		"max_stock":       f.MaxStock,
		"expiry_date":     f.ExpiryDate,
	}
}

// partyForm backs both customers and suppliers.
type partyForm struct {
	Name          string `validate:"required,min=2"`
	ContactPerson string `validate:"omitempty"`
	Phone         string `validate:"omitempty"`
	Email         string `validate:"omitempty,email"`
	Address       string `validate:"omitempty"`
}

type passwordForm struct {
	Password string `validate:"required,min=8"`
	Confirm  string `validate:"required,eqfield=Password"`
}

var fieldLabels = map[string]string{
	"PharmacyName":   "Pharmacy name",
	"Owner":          "Owner name",
	"Confirm":        "Password confirmation",
	"ScientificName": "Scientific name",
	"CostPrice":      "Cost price",
	"MinStock":       "Minimum stock",
	"MaxStock":       "Maximum stock",
	"ExpiryDate":     "Expiry date",
	"ContactPerson":  "Contact person",
	"LogoURL":        "Logo URL",
	"ProductID":      "Product",
	"PaymentMethod":  "Payment method",
}

func label(field string) string {
	if l, ok := fieldLabels[field]; ok {
		return l
	}
	return field
}

// formErrors turns validator output into messages for the user.
func formErrors(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := label(fe.Field())
		switch fe.Tag() {
		case "required":
			out = append(out, name+" is required")
		case "email":
			out = append(out, name+" must be a valid email address")
		case "min":
			if fe.Kind().String() == "string" {
				out = append(out, fmt.Sprintf("%s must be at least %s characters", name, fe.Param()))
			} else {
				out = append(out, fmt.Sprintf("%s must contain at least %s", name, fe.Param()))
			}
		case "gte":
			out = append(out, name+" must not be negative")
		case "gt":
			out = append(out, name+" must be greater than "+fe.Param())
		case "eqfield":
			out = append(out, "Passwords do not match")
		case "datetime":
			out = append(out, name+" must be a date like 2025-01-31")
		case "url":
			out = append(out, name+" must be a valid URL")
		case "oneof":
			out = append(out, name+" must be one of "+strings.ReplaceAll(fe.Param(), " ", ", "))
		default:
			out = append(out, name+" is invalid")
		}
	}
	return out
}

// numberParser accumulates parse failures while reading numeric fields.
type numberParser struct {
	form   url.Values
	errors []string
}

func (p *numberParser) float(key, labelText string) float64 {
	raw := strings.TrimSpace(p.form.Get(key))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		p.errors = append(p.errors, labelText+" must be a number")
		return 0
	}
	return v
}

func (p *numberParser) integer(key, labelText string) int64 {
	raw := strings.TrimSpace(p.form.Get(key))
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		p.errors = append(p.errors, labelText+" must be a whole number")
		return 0
	}
	return v
}

func trimmed(form url.Values, key string) string {
	return strings.TrimSpace(form.Get(key))
}
