package barcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	code, err := Generate("")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(code, DefaultPrefix))
	assert.Len(t, code, len(DefaultPrefix)+Length)
	assert.True(t, Valid(code))

	custom, err := Generate("MED")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(custom, "MED"))
	assert.NotEqual(t, code, custom)
}

func TestGenerateUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := Generate("X")
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate %s", code)
		seen[code] = true
	}
}

func TestValid(t *testing.T) {
	assert.False(t, Valid(""))
	assert.False(t, Valid("1234567"))
	assert.True(t, Valid("12345678"))
}
