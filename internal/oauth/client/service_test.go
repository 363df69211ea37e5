package client

import (
	"context"
	"testing"
	"time"

	"github.com/smallbiznis/gatekeeper/internal/clock"
	"github.com/smallbiznis/gatekeeper/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	conn, err := db.NewTest()
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&Client{}))

	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewService(NewStore(conn, db.Config{StoreTimeout: time.Second}), clk, zap.NewNop())
}

func TestRegisterAndAuthenticateConfidential(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c, secret, err := svc.Register(ctx, RegisterRequest{
		ID:           "web",
		Secret:       "s3cret-value",
		RedirectURIs: []string{"https://app.example.com/cb"},
		Scopes:       []string{"openid", "offline_access"},
		RequirePKCE:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "s3cret-value", secret)
	assert.False(t, c.IsPublic())
	assert.Equal(t, AuthMethodSecretBasic, c.TokenEndpointAuthMethod)
	assert.True(t, c.RotateRefreshTokens)
	assert.Equal(t, ReuseRevokeToken, c.ReuseDetection)

	for _, method := range []string{AuthMethodSecretBasic, AuthMethodSecretPost, ""} {
		got, err := svc.Authenticate(ctx, Credentials{ID: "web", Secret: "s3cret-value", Method: method})
		require.NoError(t, err, method)
		assert.Equal(t, "web", got.ID)
	}

	cases := []Credentials{
		{ID: "web", Secret: "wrong", Method: AuthMethodSecretBasic},
		{ID: "web", Secret: "", Method: AuthMethodNone},
		{ID: "web", Secret: "wrong", Method: AuthMethodSecretPost},
		{ID: "nobody", Secret: "s3cret-value"},
		{ID: "", Secret: ""},
	}
	for _, creds := range cases {
		_, err := svc.Authenticate(ctx, creds)
		assert.ErrorIs(t, err, ErrInvalidClient, "creds %+v", creds)
	}

	_, _, err = svc.Register(ctx, RegisterRequest{ID: "web"})
	assert.ErrorIs(t, err, ErrClientExists)
}

func TestPublicClientRequiresPKCEAndNoSecret(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c, secret, err := svc.Register(ctx, RegisterRequest{
		ID:           "spa",
		Public:       true,
		RedirectURIs: []string{"http://localhost:3000/cb"},
	})
	require.NoError(t, err)
	assert.Empty(t, secret)
	assert.True(t, c.IsPublic())
	assert.True(t, c.PKCERequired())

	_, err = svc.Authenticate(ctx, Credentials{ID: "spa", Method: AuthMethodNone})
	require.NoError(t, err)

	_, err = svc.Authenticate(ctx, Credentials{ID: "spa", Secret: "anything"})
	assert.ErrorIs(t, err, ErrInvalidClient)

	_, _, err = svc.Register(ctx, RegisterRequest{ID: "cc", Public: true, GrantTypes: []string{GrantClientCredentials}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestInactiveClientRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	c, _, err := svc.Register(ctx, RegisterRequest{ID: "svc", Secret: "x-secret-x", GrantTypes: []string{GrantClientCredentials}})
	require.NoError(t, err)
	c.Active = false
	require.NoError(t, svc.store.Save(ctx, c))

	_, err = svc.Authenticate(ctx, Credentials{ID: "svc", Secret: "x-secret-x"})
	assert.ErrorIs(t, err, ErrInvalidClient)
}

func TestClientPolicyHelpers(t *testing.T) {
	c := &Client{
		RedirectURIs:          []string{"https://a.example/cb"},
		GrantTypes:            []string{GrantAuthorizationCode},
		Scopes:                []string{"openid", "profile"},
		AccessTokenTTLSeconds: 60,
		ReuseDetection:        ReuseRevokeChain,
	}
	assert.True(t, c.AllowsRedirectURI("https://a.example/cb"))
	assert.False(t, c.AllowsRedirectURI("https://a.example/cb/"))
	assert.False(t, c.AllowsRedirectURI(""))
	assert.True(t, c.AllowsGrant(GrantAuthorizationCode))
	assert.False(t, c.AllowsGrant(GrantClientCredentials))
	assert.True(t, c.AllowsScopes([]string{"openid"}))
	assert.False(t, c.AllowsScopes([]string{"openid", "email"}))
	assert.True(t, c.ChainRevocationOnReuse())

	lt := c.Lifetimes(Lifetimes{AccessToken: time.Hour, RefreshToken: 24 * time.Hour, IDToken: time.Hour})
	assert.Equal(t, time.Minute, lt.AccessToken)
	assert.Equal(t, 24*time.Hour, lt.RefreshToken)
}
