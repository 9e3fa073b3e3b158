// Package routes classifies console paths as public or protected.
package routes

const (
	RootPath           = "/"
	LoginPath          = "/auth/login"
	RegisterPath       = "/auth/register"
	ForgotPasswordPath = "/auth/forgot-password"
)

type Class int

const (
	Protected Class = iota
	Public
)

func (c Class) String() string {
	if c == Public {
		return "public"
	}
	return "protected"
}

// Classifier is an exact-match allow-list of public paths. The zero value
// treats every path as protected.
type Classifier struct {
	public map[string]struct{}
}

// NewClassifier returns the console's classifier: root, login, register and
// password reset are public, everything else is protected.
func NewClassifier() Classifier {
	return Classifier{public: map[string]struct{}{
		RootPath:           {},
		LoginPath:          {},
		RegisterPath:       {},
		ForgotPasswordPath: {},
	}}
}

// Classify matches path against the allow-list by exact string equality; no
// prefix matching and no trailing-slash normalisation.
func (c Classifier) Classify(path string) Class {
	if _, ok := c.public[path]; ok {
		return Public
	}
	return Protected
}

func (c Classifier) IsPublic(path string) bool {
	return c.Classify(path) == Public
}

func IsRoot(path string) bool {
	return path == RootPath
}
