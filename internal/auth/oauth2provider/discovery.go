package oauth2provider

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/gatekeeper/internal/auth/scope"
	"github.com/smallbiznis/gatekeeper/internal/config"
	"github.com/smallbiznis/gatekeeper/internal/oauth/client"
	"github.com/smallbiznis/gatekeeper/internal/oauth/pkce"
	"github.com/smallbiznis/gatekeeper/internal/oauth/token"
)

// Metadata is the OpenID provider configuration document.
type Metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	UserInfoEndpoint                  string   `json:"userinfo_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// Discovery serves the provider metadata and signing keys.
type Discovery struct {
	metadata Metadata
	keys     *token.KeySet
}

func NewDiscovery(cfg config.Config, keys *token.KeySet) *Discovery {
	issuer := strings.TrimRight(cfg.OAuth.Issuer, "/")
	return &Discovery{
		keys: keys,
		metadata: Metadata{
			Issuer:                issuer,
			AuthorizationEndpoint: issuer + "/oauth/authorize",
			TokenEndpoint:         issuer + "/oauth/token",
			IntrospectionEndpoint: issuer + "/oauth/introspect",
			RevocationEndpoint:    issuer + "/oauth/revoke",
			UserInfoEndpoint:      issuer + "/oauth/userinfo",
			JWKSURI:               issuer + "/.well-known/jwks.json",
			ResponseTypesSupported: []string{responseTypeCode},
			GrantTypesSupported: []string{
				client.GrantAuthorizationCode,
				client.GrantRefreshToken,
				client.GrantClientCredentials,
			},
			SubjectTypesSupported:            []string{"public"},
			IDTokenSigningAlgValuesSupported: []string{string(token.SigningAlgorithm)},
			ScopesSupported:                  scope.Standard(),
			TokenEndpointAuthMethodsSupported: []string{
				client.AuthMethodSecretBasic,
				client.AuthMethodSecretPost,
				client.AuthMethodNone,
			},
			CodeChallengeMethodsSupported: []string{pkce.MethodS256},
			ClaimsSupported:               []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce", "name", "preferred_username", "email"},
		},
	}
}

func (d *Discovery) Metadata() Metadata { return d.metadata }

func (d *Discovery) Configuration(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=3600")
	c.JSON(http.StatusOK, d.metadata)
}

func (d *Discovery) JWKS(c *gin.Context) {
	c.Header("Cache-Control", "public, max-age=3600")
	c.JSON(http.StatusOK, d.keys.JWKS())
}
