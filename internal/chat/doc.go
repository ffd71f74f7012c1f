// Package chat contains Ripple's direct-message persistence and the
// pagination engine that slices a conversation's history into pages.
//
// A conversation is the unordered pair of two user IDs; no conversation
// entity is persisted, it is derived per query. Messages are append-only
// and immutable after insert.
package chat
