// Package token provides token hashing primitives for Ripple.
//
// It is the single source of truth for refresh-token hashing behavior.
//
// Design goals:
// - Default dev/back-compat mode: SHA-256(token) when no HMAC key is configured.
// - Production mode: HMAC-SHA256(token, key) when RIPPLE_TOKEN_HMAC_KEY is set.
// - Stable 64-char hex output for storage and constant-time comparison.
package token
