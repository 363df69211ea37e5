package pkce

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/oauth2"
)

func TestVerifyRFC7636Example(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"

	assert.True(t, Verify(challenge, MethodS256, verifier))
}

func TestVerifyGeneratedPairs(t *testing.T) {
	for i := 0; i < 50; i++ {
		verifier := oauth2.GenerateVerifier()
		challenge := oauth2.S256ChallengeFromVerifier(verifier)
		if !Verify(challenge, MethodS256, verifier) {
			t.Fatalf("expected pair %d to verify", i)
		}
	}
}

func TestVerifyFailsOnAnySingleCharacterMutation(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	for i := 0; i < len(verifier); i++ {
		replacement := byte('A')
		if verifier[i] == 'A' {
			replacement = 'B'
		}
		mutated := verifier[:i] + string(replacement) + verifier[i+1:]
		if Verify(challenge, MethodS256, mutated) {
			t.Fatalf("mutation at %d verified", i)
		}
	}
}

func TestVerifyRejectsPlainAndMalformedInput(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)

	cases := []struct {
		name      string
		challenge string
		method    string
		verifier  string
	}{
		{name: "plain method", challenge: verifier, method: MethodPlain, verifier: verifier},
		{name: "empty method", challenge: challenge, method: "", verifier: verifier},
		{name: "lowercase method", challenge: challenge, method: "s256", verifier: verifier},
		{name: "short verifier", challenge: challenge, method: MethodS256, verifier: verifier[:42]},
		{name: "long verifier", challenge: challenge, method: MethodS256, verifier: strings.Repeat("a", 129)},
		{name: "reserved chars", challenge: challenge, method: MethodS256, verifier: verifier[:42] + "+"},
		{name: "empty challenge", challenge: "", method: MethodS256, verifier: verifier},
		{name: "padded challenge", challenge: challenge + "=", method: MethodS256, verifier: verifier},
		{name: "empty verifier", challenge: challenge, method: MethodS256, verifier: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.False(t, Verify(tc.challenge, tc.method, tc.verifier))
		})
	}
}

func TestValidators(t *testing.T) {
	assert.True(t, ValidMethod("S256"))
	assert.False(t, ValidMethod("plain"))
	assert.True(t, ValidVerifier(strings.Repeat("a", 43)))
	assert.True(t, ValidVerifier(strings.Repeat("~", 128)))
	assert.False(t, ValidVerifier(strings.Repeat("a", 42)))
	assert.False(t, ValidChallenge("abc"))
}
