package token

import (
	"errors"
	"testing"
)

func TestNewOpaque_Unique(t *testing.T) {
	a, err := NewOpaque()
	if err != nil {
		t.Fatalf("NewOpaque error: %v", err)
	}
	b, err := NewOpaque()
	if err != nil {
		t.Fatalf("NewOpaque error: %v", err)
	}
	if a == b {
		t.Fatalf("two tokens came out identical")
	}
	if len(a) < 40 {
		t.Fatalf("token too short: %d chars", len(a))
	}
}

func TestHashSessionToken_SHAFallback(t *testing.T) {
	t.Setenv(HMACEnvKey, "")

	got := HashSessionTokenHex("tok-1")
	if got != HashSHA256Hex("tok-1") {
		t.Fatalf("expected SHA-256 fallback without HMAC key")
	}
	if len(got) != 64 {
		t.Fatalf("digest length %d, want 64", len(got))
	}
}

func TestHashSessionToken_HMACMode(t *testing.T) {
	t.Setenv(HMACEnvKey, "0123456789abcdef0123456789abcdef")

	got := HashSessionTokenHex("tok-1")
	if got == HashSHA256Hex("tok-1") {
		t.Fatalf("HMAC mode produced plain SHA digest")
	}

	enforced, err := HashSessionTokenHexRequireHMAC("tok-1", 32)
	if err != nil {
		t.Fatalf("RequireHMAC error: %v", err)
	}
	if enforced != got {
		t.Fatalf("enforced and default HMAC digests differ")
	}
}

func TestRequireHMAC_KeyPolicy(t *testing.T) {
	t.Setenv(HMACEnvKey, "")
	if _, err := HashSessionTokenHexRequireHMAC("tok", 32); !errors.Is(err, ErrHMACKeyMissing) {
		t.Fatalf("expected ErrHMACKeyMissing, got %v", err)
	}

	t.Setenv(HMACEnvKey, "short")
	if _, err := HashSessionTokenHexRequireHMAC("tok", 32); !errors.Is(err, ErrHMACKeyTooShort) {
		t.Fatalf("expected ErrHMACKeyTooShort, got %v", err)
	}
}
