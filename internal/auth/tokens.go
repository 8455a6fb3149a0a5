// Package auth provides AuthProvider implementations for moderator sessions:
// a bearer-token registry for the HTTP transport and a static provider.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"contribledger/internal/core"
)

// ErrUnauthorized is returned for missing or unknown bearer tokens.
var ErrUnauthorized = errors.New("unauthorized")

// TokenRegistry maps bearer tokens to sessions. Only token hashes are kept.
type TokenRegistry struct {
	sessions map[string]core.Session
}

// NewTokenRegistry builds a registry from token -> email pairs.
func NewTokenRegistry(tokens map[string]string) *TokenRegistry {
	sessions := make(map[string]core.Session, len(tokens))
	for token, email := range tokens {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		hash := hashToken(token)
		sessions[hash] = core.Session{UID: hash[:16], Email: strings.TrimSpace(email)}
	}
	return &TokenRegistry{sessions: sessions}
}

// ParseTokenList decodes "token=email,token=email" as used in configuration.
func ParseTokenList(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		token, email, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(token) == "" || strings.TrimSpace(email) == "" {
			return nil, fmt.Errorf("invalid moderator token entry %q", pair)
		}
		out[strings.TrimSpace(token)] = strings.TrimSpace(email)
	}
	return out, nil
}

// Authenticate resolves an Authorization header to a session.
func (r *TokenRegistry) Authenticate(authorization string) (core.Session, error) {
	token, ok := ParseBearerToken(authorization)
	if !ok {
		return core.Session{}, ErrUnauthorized
	}
	session, ok := r.sessions[hashToken(token)]
	if !ok {
		return core.Session{}, ErrUnauthorized
	}
	return session, nil
}

// ProviderFor returns a provider seeded with the header's session, or with
// no session when authentication fails.
func (r *TokenRegistry) ProviderFor(authorization string) *StaticProvider {
	session, err := r.Authenticate(authorization)
	if err != nil {
		return NewStaticProvider(nil)
	}
	return NewStaticProvider(&session)
}

// ParseBearerToken extracts the token from "Bearer <token>".
func ParseBearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
