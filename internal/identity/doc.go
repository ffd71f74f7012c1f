// Package identity owns Ripple's user directory: account records,
// credential storage, and lookups used by the auth and chat surfaces.
//
// Passwords are hashed with Argon2id (PHC string format) and verified in
// constant time. Plain passwords never leave this package's call stack.
package identity
