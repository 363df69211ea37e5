// Package opaque generates and hashes the random bearer values the server
// hands out: authorization codes, refresh tokens and session ids.
package opaque

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

const tokenBytes = 32

type TokenGenerator interface {
	NewToken() (string, error)
}

type randomGenerator struct{}

// NewGenerator returns a generator of 256-bit base64url values.
func NewGenerator() TokenGenerator {
	return randomGenerator{}
}

func (randomGenerator) NewToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash is the lookup key under which an opaque value is stored.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// StaticGenerator replays fixed values, then falls back to random ones.
type StaticGenerator struct {
	Values []string
	idx    int
}

func (g *StaticGenerator) NewToken() (string, error) {
	if g.idx >= len(g.Values) {
		return randomGenerator{}.NewToken()
	}
	val := g.Values[g.idx]
	g.idx++
	return val, nil
}
