package apikeys

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// SecretLength is the number of url-safe characters after the prefix
	SecretLength = 32
	// secretBytes encodes to exactly SecretLength base64url characters
	secretBytes = 24

	displayPrefixLength = 12
	displaySuffix       = "..."
)

// Generator creates keys in the <prefix>_<secret> format
type Generator struct {
	prefix string
}

// NewGenerator creates a generator for the given textual prefix, e.g. "tnt"
func NewGenerator(prefix string) *Generator {
	return &Generator{prefix: prefix + "_"}
}

// Generate returns a new random key
func (g *Generator) Generate() (string, error) {
	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return g.prefix + base64.RawURLEncoding.EncodeToString(b), nil
}

// ValidFormat reports whether key has the prefix and a 32 character url-safe secret
func (g *Generator) ValidFormat(key string) bool {
	if !strings.HasPrefix(key, g.prefix) {
		return false
	}
	secret := key[len(g.prefix):]
	if len(secret) != SecretLength {
		return false
	}
	for _, c := range secret {
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

// DisplayPrefix returns the non-secret identifier shown in listings
func DisplayPrefix(key string) string {
	if len(key) <= displayPrefixLength {
		return key + displaySuffix
	}
	return key[:displayPrefixLength] + displaySuffix
}
