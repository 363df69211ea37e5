package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smallbiznis/gatekeeper/internal/auth/password"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		keygenOut = ""
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygenWritesParseableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.pem")

	out, err := execute(t, "", "keygen", "--out", path)
	require.NoError(t, err)
	assert.Contains(t, out, "kid ")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	key, err := token.ParsePrivateKeyPEM(data)
	require.NoError(t, err)

	keys, err := token.NewKeySet(key)
	require.NoError(t, err)
	assert.Contains(t, out, keys.KeyID())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestKeygenToStdout(t *testing.T) {
	out, err := execute(t, "", "keygen")
	require.NoError(t, err)

	_, err = token.ParsePrivateKeyPEM([]byte(out))
	require.NoError(t, err)
}

func TestHashSecretFromArgAndStdin(t *testing.T) {
	out, err := execute(t, "", "hash-secret", "client-secret-value")
	require.NoError(t, err)
	assert.True(t, password.Verify("client-secret-value", strings.TrimSpace(out)))

	out, err = execute(t, "piped-secret\n", "hash-secret")
	require.NoError(t, err)
	assert.True(t, password.Verify("piped-secret", strings.TrimSpace(out)))
}

func TestHashSecretRejectsEmpty(t *testing.T) {
	_, err := execute(t, "\n", "hash-secret")
	require.Error(t, err)
}

func TestCreateUserRequiresCredentials(t *testing.T) {
	_, err := execute(t, "", "create-user", "--username", "")
	require.Error(t, err)
}
