package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNumeric(t *testing.T) {
	assert.True(t, isNumeric("242733"))
	assert.False(t, isNumeric(""))
	assert.False(t, isNumeric("+1555"))
	assert.False(t, isNumeric("abc123"))
}

func TestAddIdentifierPrefix(t *testing.T) {
	assert.Equal(t, "tel:+15551234567", addIdentifierPrefix("+15551234567"))
	assert.Equal(t, "tel:242733", addIdentifierPrefix("242733"))
	assert.Equal(t, "mailto:a@b.com", addIdentifierPrefix("a@b.com"))
	assert.Equal(t, "tel:+1555", addIdentifierPrefix("tel:+1555"))
	assert.Equal(t, "mailto:a@b.com", addIdentifierPrefix("mailto:a@b.com"))
	assert.Equal(t, "weird-handle", addIdentifierPrefix("weird-handle"))
}
