// Package push is Ripple's live delivery channel.
//
// A client opens one WebSocket per device, authenticates with a hello
// envelope carrying its access token, and from then on receives
// server-initiated message.new envelopes whenever a direct message
// addressed to it is created. The channel is push-only; message sends
// and history fetches go through the HTTP API.
package push
