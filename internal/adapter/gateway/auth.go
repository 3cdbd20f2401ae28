package gateway

import (
	"context"
	"crypto/subtle"

	"github.com/bonk1t/agent-os/internal/domain"
)

type tokenEntry struct {
	token []byte
	user  *domain.User
}

// StaticTokenVerifier validates bearer credentials against a static
// token-to-user table using constant-time comparison.
type StaticTokenVerifier struct {
	entries []tokenEntry
}

// NewStaticTokenVerifier builds a verifier from a token -> user id map.
func NewStaticTokenVerifier(tokens map[string]string) *StaticTokenVerifier {
	v := &StaticTokenVerifier{}
	for token, userID := range tokens {
		v.entries = append(v.entries, tokenEntry{
			token: []byte(token),
			user:  &domain.User{ID: userID},
		})
	}
	return v
}

// Verify implements domain.TokenVerifier.
func (v *StaticTokenVerifier) Verify(_ context.Context, token string) (*domain.User, error) {
	raw := []byte(token)
	for _, e := range v.entries {
		if subtle.ConstantTimeCompare(raw, e.token) == 1 {
			return e.user, nil
		}
	}
	return nil, domain.ErrAuthInvalid
}
