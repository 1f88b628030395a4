package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	minTokenTTL = time.Minute
	maxTokenTTL = 60 * time.Minute

	// 32 random bytes, well above the 128-bit floor.
	secretBytes = 32
)

// Generator mints check-in tokens with unguessable secrets.
type Generator struct {
	defaultTTL time.Duration
	now        func() time.Time
}

// NewGenerator creates a token generator. defaultTTL is used when Mint is
// called with a zero ttl and is clamped to the policy window.
func NewGenerator(defaultTTL time.Duration) *Generator {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	return &Generator{defaultTTL: defaultTTL, now: time.Now}
}

// Mint produces a new token for the session. The secret is hex-encoded
// output of crypto/rand; ttl is clamped to [1m, 60m].
func (g *Generator) Mint(sessionID string, ttl time.Duration) (Token, error) {
	if sessionID == "" {
		return Token{}, fmt.Errorf("session id required")
	}
	if ttl <= 0 {
		ttl = g.defaultTTL
	}
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}
	if ttl > maxTokenTTL {
		ttl = maxTokenTTL
	}

	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return Token{}, fmt.Errorf("token entropy: %w", err)
	}

	issued := g.now().UTC()
	return Token{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Secret:    hex.EncodeToString(buf),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(ttl),
	}, nil
}
