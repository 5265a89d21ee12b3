package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"ada@example.com", "ada@example.com", true},
		{"  Ada@Example.COM ", "ada@example.com", true},
		{"Ada <ada@example.com>", "", false},
		{"not-an-email", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeEmail(tt.in)
		if !tt.ok {
			assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err), tt.in)
			continue
		}
		assert.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
