package session

import (
	"testing"
	"time"
)

func TestMintSecretsAreUniqueAndLong(t *testing.T) {
	gen := NewGenerator(10 * time.Minute)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		tok, err := gen.Mint("sess-1", 0)
		if err != nil {
			t.Fatalf("Mint() error = %v", err)
		}
		if len(tok.Secret) != secretBytes*2 {
			t.Fatalf("secret length = %d, want %d", len(tok.Secret), secretBytes*2)
		}
		if seen[tok.Secret] {
			t.Fatalf("duplicate secret minted: %s", tok.Secret)
		}
		seen[tok.Secret] = true
	}
}

func TestMintTTL(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	gen := NewGenerator(10 * time.Minute)
	gen.now = func() time.Time { return base }

	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{name: "default", ttl: 0, want: 10 * time.Minute},
		{name: "explicit", ttl: 5 * time.Minute, want: 5 * time.Minute},
		{name: "clamped low", ttl: time.Second, want: time.Minute},
		{name: "clamped high", ttl: 3 * time.Hour, want: 60 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := gen.Mint("sess-1", tt.ttl)
			if err != nil {
				t.Fatalf("Mint() error = %v", err)
			}
			if !tok.IssuedAt.Equal(base) {
				t.Errorf("IssuedAt = %v, want %v", tok.IssuedAt, base)
			}
			if got := tok.ExpiresAt.Sub(tok.IssuedAt); got != tt.want {
				t.Errorf("ttl = %v, want %v", got, tt.want)
			}
			if !tok.ExpiresAt.After(tok.IssuedAt) {
				t.Errorf("ExpiresAt must be after IssuedAt")
			}
		})
	}
}

func TestMintRequiresSession(t *testing.T) {
	if _, err := NewGenerator(0).Mint("", 0); err == nil {
		t.Fatal("Mint with empty session id should fail")
	}
}

func TestTokenLiveIsExclusiveAtExpiry(t *testing.T) {
	exp := time.Date(2026, 3, 2, 9, 10, 0, 0, time.UTC)
	tok := Token{ExpiresAt: exp}

	if !tok.Live(exp.Add(-time.Nanosecond)) {
		t.Error("token should be live just before expiry")
	}
	if tok.Live(exp) {
		t.Error("token must be dead exactly at expiry")
	}
	if tok.Live(exp.Add(time.Nanosecond)) {
		t.Error("token must be dead after expiry")
	}
}
