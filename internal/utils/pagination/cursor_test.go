package pagination

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := Encode(Cursor{BeforeID: 1790000000000000001})
	require.NoError(t, err)

	c, err := Decode(token)
	require.NoError(t, err)
	assert.Equal(t, int64(1790000000000000001), c.BeforeID)
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Zero(t, c.BeforeID)

	_, err = Decode("%%%")
	assert.Error(t, err)

	_, err = Decode("bm90LWpzb24=") // "not-json"
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, 10, ClampLimit(10))
	assert.Equal(t, MaxLimit, ClampLimit(10_000))
}
