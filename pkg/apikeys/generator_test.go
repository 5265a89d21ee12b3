package apikeys

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate(t *testing.T) {
	gen := NewGenerator("tnt")

	key, err := gen.Generate()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "tnt_"))
	assert.Len(t, strings.TrimPrefix(key, "tnt_"), SecretLength)
	assert.True(t, gen.ValidFormat(key))

	other, err := gen.Generate()
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestGenerator_ValidFormat(t *testing.T) {
	gen := NewGenerator("tnt")
	secret := strings.Repeat("a", SecretLength)

	tests := map[string]bool{
		"tnt_" + secret:                    true,
		"tnt_" + strings.Repeat("-_9Z", 8): true,
		"xyz_" + secret:                    false,
		"tnt" + secret:                     false,
		"tnt_" + secret[:31]:               false,
		"tnt_" + secret + "a":              false,
		"tnt_" + strings.Repeat("a+", 16):  false,
		"":                                 false,
	}
	for key, want := range tests {
		assert.Equal(t, want, gen.ValidFormat(key), key)
	}
}

func TestDisplayPrefix(t *testing.T) {
	assert.Equal(t, "tnt_abcdefgh...", DisplayPrefix("tnt_abcdefghijklmnop"))
	assert.Equal(t, "short...", DisplayPrefix("short"))
}
