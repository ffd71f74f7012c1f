// Package session implements Ripple's session model: short-lived PASETO
// v4.public access tokens backed by rotating opaque refresh tokens.
//
// Refresh tokens are random strings stored only as hashes (HMAC-SHA256 when
// RIPPLE_TOKEN_HMAC_KEY is set; otherwise SHA-256 for dev). Rotation detects
// reuse of an already-rotated token and revokes every session of the user.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
