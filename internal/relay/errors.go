package relay

import "errors"

// ErrUnavailable is returned for connection errors, timeouts, and
// non-2xx/404 responses from the relay — transient by definition,
// never fatal to the daemon (spec.md §7).
var ErrUnavailable = errors.New("relay: unavailable")

// ErrNotFound is returned when the relay reports a session id does
// not exist (HTTP 404) — the session is gone.
var ErrNotFound = errors.New("relay: session not found")
