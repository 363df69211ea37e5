package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	encoded, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=1,p=4$"))
	assert.True(t, Verify("correct horse battery staple", encoded))
	assert.False(t, Verify("correct horse battery stapler", encoded))

	again, err := Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, encoded, again, "salts must differ")
}

func TestVerifyRejectsMalformed(t *testing.T) {
	for _, encoded := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=x,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=0,t=1,p=4$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$!!$aGFzaA",
		"$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$",
	} {
		assert.False(t, Verify("anything", encoded), encoded)
	}
}

func TestNeedsRehash(t *testing.T) {
	current, err := Hash("secret-value")
	require.NoError(t, err)
	assert.False(t, NeedsRehash(current))

	weaker := Current
	weaker.Memory = 16 * 1024
	old, err := HashWith("secret-value", weaker)
	require.NoError(t, err)
	assert.True(t, Verify("secret-value", old))
	assert.True(t, NeedsRehash(old))

	assert.True(t, NeedsRehash("garbage"))
}
