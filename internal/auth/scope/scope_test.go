package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAndFormat(t *testing.T) {
	assert.Equal(t, []string{"openid", "profile", "email"}, Parse("  openid profile\topenid email "))
	assert.Equal(t, "openid email", Format([]string{"openid", " ", "email", "openid"}))
	assert.Empty(t, Parse(""))
}

func TestSubset(t *testing.T) {
	allowed := []string{"openid", "profile", "offline_access"}
	assert.True(t, Subset([]string{"openid"}, allowed))
	assert.True(t, Subset(nil, allowed))
	assert.False(t, Subset([]string{"openid", "admin"}, allowed))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate([]string{"openid", "users:read"}))
	assert.ErrorIs(t, Validate([]string{"bad\"scope"}), ErrInvalidScope)
	assert.ErrorIs(t, Validate([]string{"naïve"}), ErrInvalidScope)
}

func TestHas(t *testing.T) {
	granted := []string{"rbac:read", "users:*"}
	assert.True(t, Has(granted, "rbac:read"))
	assert.True(t, Has(granted, "USERS:write"))
	assert.False(t, Has(granted, "rbac:write"))
	assert.False(t, Has(granted, ""))
	assert.True(t, Has([]string{"*"}, "audit:read"))
}
