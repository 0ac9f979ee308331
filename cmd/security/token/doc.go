// Package token provides the session-token primitives for the lab server.
//
// It is the single source of truth for how opaque session tokens are minted
// and how they are hashed before being stored server-side.
//
// Design goals:
// - Tokens carry no structure; the database only ever sees a digest.
// - Default dev mode: SHA-256(token) when no HMAC key is configured.
// - Production-enforced mode: HMAC-SHA256(token, key) when policy requires it.
// - Stable 64-char hex output for storage and constant-time comparison.
//
// Environment:
// - FPGALAB_TOKEN_HMAC_KEY: when set, enables HMAC mode.
package token
