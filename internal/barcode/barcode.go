// Package barcode generates product barcodes backed by nanoid.
package barcode

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// DefaultPrefix is used when Generate is called with an empty prefix.
const DefaultPrefix = "PRD"

// Alphabet excludes lowercase letters so codes read unambiguously on labels.
var Alphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// Length is the number of random characters after the prefix.
const Length = 12

// MinLength is the shortest code accepted as a barcode.
const MinLength = 8

// Generate returns prefix followed by Length random characters.
func Generate(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("barcode: %w", err)
	}
	return prefix + id, nil
}

// Valid reports whether code is long enough to be a barcode.
func Valid(code string) bool {
	return len(code) >= MinLength
}
