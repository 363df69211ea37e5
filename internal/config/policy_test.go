package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateSecurityPolicy(t *testing.T) {
	require.NoError(t, validateSecurityPolicy(DefaultSecurityPolicy()))

	bad := DefaultSecurityPolicy()
	bad.RateLimit.Burst = 0
	require.Error(t, validateSecurityPolicy(bad))

	bad = DefaultSecurityPolicy()
	bad.Lockout.Duration = 0
	require.Error(t, validateSecurityPolicy(bad))
}

func TestStaticPolicyHolder(t *testing.T) {
	policy := DefaultSecurityPolicy()
	policy.Lockout.Duration = time.Minute

	holder := NewStaticPolicyHolder(policy)
	require.Equal(t, time.Minute, holder.Get().Lockout.Duration)

	var nilHolder *PolicyHolder
	require.Equal(t, DefaultSecurityPolicy(), nilHolder.Get())
}

func TestParseList(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, parseList(" a, b\tc ,"))
	require.Empty(t, parseList(""))
}
