package app

import (
	"errors"

	"fpgalab/cmd/security/token"
)

// ValidateSecurityConfig enforces the security policy at startup. Fail-fast:
// silently falling back to weaker session-token hashing in production is not
// acceptable, so enforcement validates the same module that performs the
// hashing (security/token).
func ValidateSecurityConfig(cfg Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	// Minimum 32 bytes for an HMAC-SHA256 secret, measured in bytes because
	// the key is used as raw bytes.
	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: FPGALAB_REQUIRE_TOKEN_HMAC=true but FPGALAB_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: FPGALAB_REQUIRE_TOKEN_HMAC=true but FPGALAB_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	if !token.HMACEnabled() {
		return errors.New("security policy: FPGALAB_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
	}

	return nil
}
