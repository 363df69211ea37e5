// Package scope parses OAuth scope strings and matches resource:action permissions.
package scope

import (
	"errors"
	"sort"
	"strings"
)

var ErrInvalidScope = errors.New("invalid_scope")

const (
	OpenID        = "openid"
	Profile       = "profile"
	Email         = "email"
	OfflineAccess = "offline_access"
)

// Standard returns the OpenID Connect scopes every deployment understands.
func Standard() []string {
	return []string{OpenID, Profile, Email, OfflineAccess}
}

// Parse splits a space-delimited scope parameter, dropping duplicates and
// preserving first-seen order.
func Parse(raw string) []string {
	return Normalize(strings.Fields(raw))
}

// Format joins scopes into the wire representation.
func Format(scopes []string) string {
	return strings.Join(Normalize(scopes), " ")
}

func Normalize(scopes []string) []string {
	if len(scopes) == 0 {
		return []string{}
	}
	seen := make(map[string]struct{}, len(scopes))
	normalized := make([]string, 0, len(scopes))
	for _, s := range scopes {
		value := strings.TrimSpace(s)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
	}
	return normalized
}

// Contains reports whether scopes holds value exactly.
func Contains(scopes []string, value string) bool {
	for _, s := range scopes {
		if s == value {
			return true
		}
	}
	return false
}

// Subset reports whether every requested scope is allowed.
func Subset(requested, allowed []string) bool {
	if len(requested) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(allowed))
	for _, s := range allowed {
		set[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := set[s]; !ok {
			return false
		}
	}
	return true
}

// Validate rejects scope tokens containing characters outside RFC 6749 §3.3.
func Validate(scopes []string) error {
	for _, s := range scopes {
		if s == "" {
			return ErrInvalidScope
		}
		for i := 0; i < len(s); i++ {
			c := s[i]
			if c < 0x21 || c == 0x22 || c == 0x5c || c > 0x7e {
				return ErrInvalidScope
			}
		}
	}
	return nil
}

// Has reports whether granted permissions satisfy required. A grant of
// "resource:*" covers every action on resource and "*" covers everything.
func Has(granted []string, required string) bool {
	required = normalizePermission(required)
	if required == "" {
		return false
	}
	requiredResource := strings.SplitN(required, ":", 2)[0]

	for _, g := range granted {
		normalized := normalizePermission(g)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == required {
			return true
		}
		if requiredResource != "" && normalized == requiredResource+":*" {
			return true
		}
	}
	return false
}

// Sorted returns a sorted copy, used where output must be deterministic.
func Sorted(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func normalizePermission(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
