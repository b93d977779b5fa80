// Package secrets generates opaque credentials such as survey access tokens.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// tokenBytes is the entropy of a generated token. 32 bytes keeps tokens
// unguessable even when embedded in long-lived survey URLs.
const tokenBytes = 32

// Generate creates a cryptographically secure random token.
// Returns a base64url-encoded string with no padding, safe for use in URL
// path segments. The token carries no information about the run, department
// or user it grants access to.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
