package routes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()
	for _, tc := range []struct {
		path string
		want Class
	}{
		{"/", Public},
		{"/auth/login", Public},
		{"/auth/register", Public},
		{"/auth/forgot-password", Public},
		{"/inventory", Protected},
		{"/reports", Protected},
		{"/auth/login/", Protected},
		{"/auth", Protected},
		{"/AUTH/LOGIN", Protected},
		{"", Protected},
		{"/auth/login?next=/", Protected},
	} {
		assert.Equal(t, tc.want, c.Classify(tc.path), tc.path)
	}
}

func TestZeroClassifierIsAllProtected(t *testing.T) {
	var c Classifier
	assert.Equal(t, Protected, c.Classify("/"))
}

func TestIsRoot(t *testing.T) {
	assert.True(t, IsRoot("/"))
	assert.False(t, IsRoot(""))
	assert.False(t, IsRoot("/dashboard"))
	assert.Equal(t, "public", Public.String())
	assert.Equal(t, "protected", Protected.String())
}
