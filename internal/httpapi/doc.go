// Package httpapi wires Ripple's HTTP endpoints to the identity,
// session, and chat services: signup/login/refresh/logout, the user
// directory, and paginated direct-message retrieval and send.
package httpapi
