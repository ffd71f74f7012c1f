// Package chatclient is Ripple's Go client SDK: an HTTP client with
// token refresh, a per-conversation page cache, the active-conversation
// reconciliation state machine, and a push-channel subscription.
//
// The cache and conversation are safe for concurrent use, but the
// intended shape is one event loop per UI surface: fetch completions,
// push callbacks, and user actions interleave rather than truly
// overlap, which is why stale fetches are discarded post hoc instead of
// cancelled.
package chatclient
