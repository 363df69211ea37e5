// Package pkce verifies RFC 7636 proof keys. Only S256 is accepted.
package pkce

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/oauth2"
)

const (
	MethodS256  = "S256"
	MethodPlain = "plain"

	MinVerifierLength = 43
	MaxVerifierLength = 128
)

// Verify reports whether verifier hashes to challenge under method.
// Malformed input of any kind is a failed verification.
func Verify(challenge, method, verifier string) bool {
	if method != MethodS256 {
		return false
	}
	if !ValidChallenge(challenge) || !ValidVerifier(verifier) {
		return false
	}
	computed := oauth2.S256ChallengeFromVerifier(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

// ValidMethod accepts S256 only; plain is rejected outright.
func ValidMethod(method string) bool {
	return strings.TrimSpace(method) == MethodS256
}

// ValidVerifier checks length and the unreserved character set.
func ValidVerifier(verifier string) bool {
	if len(verifier) < MinVerifierLength || len(verifier) > MaxVerifierLength {
		return false
	}
	return unreserved(verifier)
}

// ValidChallenge checks the shape of an S256 challenge: 43 base64url chars.
func ValidChallenge(challenge string) bool {
	if len(challenge) != 43 {
		return false
	}
	return unreserved(challenge)
}

func unreserved(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '.', c == '_', c == '~':
		default:
			return false
		}
	}
	return true
}
